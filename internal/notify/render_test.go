package notify

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectline/internal/domain"
)

func payloadJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestRenderOverdueEmail(t *testing.T) {
	now := time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC)
	n := domain.Notification{
		Category: domain.CategoryOverdue,
		Payload: payloadJSON(t, domain.NotificationPayload{
			InstanceID:   "inst-1",
			LocationID:   "loc-north",
			LocationName: "North Clinic",
			TaskName:     "Fire extinguisher check",
			DueAt:        time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
			Category:     domain.CategoryOverdue,
		}),
	}
	body, err := RenderBody(n, now, "https://app.example.com/")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "overdue_email", []byte(body))
}

func TestRenderWithoutLink(t *testing.T) {
	now := time.Date(2024, 6, 7, 9, 0, 0, 0, time.UTC)
	n := domain.Notification{
		Category: domain.CategoryUpcoming,
		Payload: payloadJSON(t, domain.NotificationPayload{
			InstanceID:   "inst-2",
			LocationName: "North Clinic",
			TaskName:     "Sharps audit",
			DueAt:        time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
		}),
	}
	body, err := RenderBody(n, now, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body, "This inspection is coming up.\n"))
	assert.Contains(t, body, "(3 days from now)")
	assert.NotContains(t, body, "Open it")
}

func TestRenderEscalationDigest(t *testing.T) {
	now := time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC)
	d := Digest{
		Total: 3,
		Locations: []DigestLocation{
			{
				LocationID:   "loc-north",
				LocationName: "North Clinic",
				Instances: []DigestInstance{
					{InstanceID: "i1", TaskName: "Fire extinguisher check", DueAt: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)},
					{InstanceID: "i2", TaskName: "Eyewash station", DueAt: time.Date(2024, 6, 4, 9, 0, 0, 0, time.UTC)},
				},
			},
			{
				LocationID:   "loc-south",
				LocationName: "South Clinic",
				Instances: []DigestInstance{
					{InstanceID: "i3", TaskName: "Sterilizer log", DueAt: time.Date(2024, 5, 21, 9, 0, 0, 0, time.UTC)},
				},
			},
		},
	}
	body, err := RenderBody(domain.Notification{Category: domain.CategoryEscalation, Payload: payloadJSON(t, d)}, now, "")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "escalation_digest", []byte(body))
}

func TestRenderRejectsBadPayload(t *testing.T) {
	_, err := RenderBody(domain.Notification{Category: domain.CategoryOverdue, Payload: "{"}, time.Now(), "")
	require.Error(t, err)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "Overdue: Fire drill (North)", Subject(domain.CategoryOverdue, "Fire drill", "North"))
	assert.Equal(t, "Due today: Fire drill (North)", Subject(domain.CategoryDueToday, "Fire drill", "North"))
	assert.Equal(t, "Unassigned overdue inspections: 1,204", DigestSubject(1204))
}
