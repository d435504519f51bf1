package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"inspectline/internal/domain"
)

// Digest is the payload of an escalation email.
type Digest struct {
	Total     int              `json:"total"`
	Locations []DigestLocation `json:"locations"`
}

type DigestLocation struct {
	LocationID   string           `json:"location_id"`
	LocationName string           `json:"location_name"`
	Instances    []DigestInstance `json:"instances"`
}

type DigestInstance struct {
	InstanceID string    `json:"instance_id"`
	TaskName   string    `json:"task_name"`
	DueAt      time.Time `json:"due_at"`
}

// Subject returns the email subject line for a category.
func Subject(category domain.Category, taskName, locationName string) string {
	switch category {
	case domain.CategoryOverdue:
		return fmt.Sprintf("Overdue: %s (%s)", taskName, locationName)
	case domain.CategoryDueToday:
		return fmt.Sprintf("Due today: %s (%s)", taskName, locationName)
	case domain.CategoryUpcoming:
		return fmt.Sprintf("Upcoming: %s (%s)", taskName, locationName)
	case domain.CategoryMonthlyWarning:
		return fmt.Sprintf("Coming up this season: %s (%s)", taskName, locationName)
	case domain.CategoryAssignment:
		return fmt.Sprintf("New inspection assigned: %s (%s)", taskName, locationName)
	case domain.CategoryReminder:
		return fmt.Sprintf("Reminder: %s (%s)", taskName, locationName)
	case domain.CategoryEscalation:
		return "Unassigned overdue inspections"
	}
	return taskName
}

// DigestSubject includes the count so the digest stands out in an inbox.
func DigestSubject(total int) string {
	return fmt.Sprintf("%s: %s", Subject(domain.CategoryEscalation, "", ""), humanize.Comma(int64(total)))
}

var funcs = template.FuncMap{
	"when": func(t time.Time) string { return t.Format("Mon Jan 2, 2006 15:04 MST") },
	"rel": func(t, now time.Time) string {
		return humanize.RelTime(t, now, "ago", "from now")
	},
}

var instanceTmpl = template.Must(template.New("instance").Funcs(funcs).Parse(
	`{{.Lead}}

Inspection: {{.P.TaskName}}
Location:   {{.P.LocationName}}
Due:        {{when .P.DueAt}} ({{rel .P.DueAt .Now}})
{{- if .Link}}

Open it: {{.Link}}
{{- end}}
`))

var digestTmpl = template.Must(template.New("digest").Funcs(funcs).Parse(
	`{{.D.Total}} overdue inspection(s) have nobody assigned.
{{range .D.Locations}}
{{.LocationName}} ({{len .Instances}})
{{- range .Instances}}
  - {{.TaskName}}, due {{when .DueAt}} ({{rel .DueAt $.Now}})
{{- end}}
{{end}}`))

var leads = map[domain.Category]string{
	domain.CategoryOverdue:        "This inspection is overdue.",
	domain.CategoryDueToday:       "This inspection is due today.",
	domain.CategoryUpcoming:       "This inspection is coming up.",
	domain.CategoryMonthlyWarning: "This inspection falls due in the coming months.",
	domain.CategoryAssignment:     "You have been assigned an inspection.",
	domain.CategoryReminder:       "A colleague asked us to remind you about this inspection.",
}

// RenderBody renders the plain-text body of a stored notification.
func RenderBody(n domain.Notification, now time.Time, baseURL string) (string, error) {
	var buf bytes.Buffer
	if n.Category == domain.CategoryEscalation {
		var d Digest
		if err := json.Unmarshal([]byte(n.Payload), &d); err != nil {
			return "", fmt.Errorf("decode digest payload: %w", err)
		}
		if err := digestTmpl.Execute(&buf, struct {
			D   Digest
			Now time.Time
		}{d, now}); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	var p domain.NotificationPayload
	if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
		return "", fmt.Errorf("decode notification payload: %w", err)
	}
	lead, ok := leads[n.Category]
	if !ok {
		lead = "Inspection update."
	}
	link := ""
	if baseURL != "" && p.InstanceID != "" {
		link = strings.TrimRight(baseURL, "/") + "/instances/" + p.InstanceID
	}
	if err := instanceTmpl.Execute(&buf, struct {
		Lead string
		P    domain.NotificationPayload
		Now  time.Time
		Link string
	}{lead, p, now, link}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
