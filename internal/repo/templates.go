package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"inspectline/internal/domain"
)

type TemplateFilters struct {
	LocationID string
	ActiveOnly bool
}

const templateColumns = `id,location_id,name,COALESCE(description,''),frequency,anchor_json,assignee_profile_id,assignee_email,active,created_at,updated_at`

func (r Repo) InsertTemplateTx(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	anchor, err := json.Marshal(t.Anchor)
	if err != nil {
		return fmt.Errorf("marshal anchor: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO templates(id,location_id,name,description,frequency,anchor_json,assignee_profile_id,assignee_email,active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.LocationID, t.Name, nullable(t.Description), string(t.Frequency), string(anchor),
		nullableStr(t.AssigneeProfileID), nullableStr(t.AssigneeEmail), boolInt(t.Active),
		formatTS(t.CreatedAt), formatTS(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	t, err := scanTemplate(r.DB.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=?`, id))
	if err != nil {
		return t, notFound(err, "template", id)
	}
	return t, nil
}

func (r Repo) ListTemplates(ctx context.Context, f TemplateFilters) ([]domain.Template, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.LocationID != "" {
		clauses = append(clauses, "location_id=?")
		args = append(args, f.LocationID)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active=1")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// DeactivateTemplateTx soft-deletes a template. It reports false when the
// template was already inactive.
func (r Repo) DeactivateTemplateTx(ctx context.Context, tx *sql.Tx, id string, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE templates SET active=0, updated_at=? WHERE id=? AND active=1`, formatTS(now), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM templates WHERE id=?`, id).Scan(&exists); err != nil {
		return false, notFound(err, "template", id)
	}
	return false, nil
}

func scanTemplate(row rowScanner) (domain.Template, error) {
	var t domain.Template
	var freq, anchor, created, updated string
	var assigneeID, assigneeEmail sql.NullString
	var active int
	if err := row.Scan(&t.ID, &t.LocationID, &t.Name, &t.Description, &freq, &anchor, &assigneeID, &assigneeEmail, &active, &created, &updated); err != nil {
		return t, err
	}
	t.Frequency = domain.Frequency(freq)
	if anchor != "" {
		if err := json.Unmarshal([]byte(anchor), &t.Anchor); err != nil {
			return t, fmt.Errorf("template %s anchor: %w", t.ID, err)
		}
	}
	t.AssigneeProfileID = strPtr(assigneeID)
	t.AssigneeEmail = strPtr(assigneeEmail)
	t.Active = active == 1
	var err error
	if t.CreatedAt, err = parseTS(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTS(updated); err != nil {
		return t, err
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
