package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"inspectline/internal/domain"
)

type InstanceFilters struct {
	LocationID string
	TemplateID string
	Status     string
	AssigneeID string
	Limit      int
}

// StatusUpdate is a compare-and-set status change. Milestones left nil are
// not touched; InspectedAt only fills an empty column.
type StatusUpdate struct {
	ID          string
	From        domain.Status
	To          domain.Status
	Remarks     *string
	InspectedAt *time.Time
	FailedAt    *time.Time
	PassedAt    *time.Time
	UpdatedAt   time.Time
}

const instanceColumns = `id,template_id,location_id,due_at,assignee_profile_id,assignee_email,status,COALESCE(remarks,''),inspected_at,failed_at,passed_at,created_at,updated_at`

func (r Repo) InsertInstanceTx(ctx context.Context, tx *sql.Tx, i domain.Instance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO instances(id,template_id,location_id,due_at,assignee_profile_id,assignee_email,status,remarks,inspected_at,failed_at,passed_at,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.TemplateID, i.LocationID, formatTS(i.DueAt), nullableStr(i.AssigneeProfileID), nullableStr(i.AssigneeEmail),
		string(i.Status), nullable(i.Remarks), nullableTS(i.InspectedAt), nullableTS(i.FailedAt), nullableTS(i.PassedAt),
		formatTS(i.CreatedAt), formatTS(i.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

func (r Repo) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	return getInstance(ctx, r.DB, id)
}

func (r Repo) GetInstanceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Instance, error) {
	return getInstance(ctx, tx, id)
}

func getInstance(ctx context.Context, q querier, id string) (domain.Instance, error) {
	i, err := scanInstance(q.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id=?`, id))
	if err != nil {
		return i, notFound(err, "instance", id)
	}
	return i, nil
}

func (r Repo) ListInstances(ctx context.Context, f InstanceFilters) ([]domain.Instance, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.LocationID != "" {
		clauses = append(clauses, "location_id=?")
		args = append(args, f.LocationID)
	}
	if f.TemplateID != "" {
		clauses = append(clauses, "template_id=?")
		args = append(args, f.TemplateID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_profile_id=?")
		args = append(args, f.AssigneeID)
	}
	args = append(args, normalizeLimit(f.Limit, 100, 1000))
	query := fmt.Sprintf(`SELECT %s FROM instances WHERE %s ORDER BY due_at, id LIMIT ?`, instanceColumns, strings.Join(clauses, " AND "))
	return queryInstances(ctx, r.DB, query, args...)
}

// OpenInstancesDueBy returns pending and in-progress instances due at or
// before cutoff, soonest first, at most limit of them.
func (r Repo) OpenInstancesDueBy(ctx context.Context, cutoff time.Time, limit int) ([]domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE status IN ('pending','in_progress') AND due_at<=? ORDER BY due_at, id LIMIT ?`
	return queryInstances(ctx, r.DB, query, formatTS(cutoff), limit)
}

// LatestInstance returns the template's instance with the latest due date.
func (r Repo) LatestInstance(ctx context.Context, templateID string) (domain.Instance, error) {
	return latestInstance(ctx, r.DB, templateID)
}

// LatestInstanceTx reads inside tx so a rollover sees rows committed by
// the previous writer.
func (r Repo) LatestInstanceTx(ctx context.Context, tx *sql.Tx, templateID string) (domain.Instance, error) {
	return latestInstance(ctx, tx, templateID)
}

func latestInstance(ctx context.Context, q querier, templateID string) (domain.Instance, error) {
	i, err := scanInstance(q.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE template_id=? ORDER BY due_at DESC, created_at DESC LIMIT 1`, templateID))
	if err != nil {
		return i, notFound(err, "instance", "latest for template "+templateID)
	}
	return i, nil
}

// CompareAndSetStatusTx applies u only if the stored status still equals
// u.From. It reports whether a row changed.
func (r Repo) CompareAndSetStatusTx(ctx context.Context, tx *sql.Tx, u StatusUpdate) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE instances SET
  status=?,
  remarks=COALESCE(?,remarks),
  inspected_at=COALESCE(inspected_at,?),
  failed_at=COALESCE(?,failed_at),
  passed_at=COALESCE(?,passed_at),
  updated_at=?
WHERE id=? AND status=?`,
		string(u.To), nullableStr(u.Remarks), nullableTS(u.InspectedAt), nullableTS(u.FailedAt), nullableTS(u.PassedAt),
		formatTS(u.UpdatedAt), u.ID, string(u.From))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func queryInstances(ctx context.Context, q querier, query string, args ...any) ([]domain.Instance, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

func scanInstance(row rowScanner) (domain.Instance, error) {
	var i domain.Instance
	var due, status, created, updated string
	var assigneeID, assigneeEmail, inspected, failed, passed sql.NullString
	if err := row.Scan(&i.ID, &i.TemplateID, &i.LocationID, &due, &assigneeID, &assigneeEmail, &status, &i.Remarks,
		&inspected, &failed, &passed, &created, &updated); err != nil {
		return i, err
	}
	i.Status = domain.Status(status)
	i.AssigneeProfileID = strPtr(assigneeID)
	i.AssigneeEmail = strPtr(assigneeEmail)
	var err error
	if i.DueAt, err = parseTS(due); err != nil {
		return i, err
	}
	if i.InspectedAt, err = parseNullTS(inspected); err != nil {
		return i, err
	}
	if i.FailedAt, err = parseNullTS(failed); err != nil {
		return i, err
	}
	if i.PassedAt, err = parseNullTS(passed); err != nil {
		return i, err
	}
	if i.CreatedAt, err = parseTS(created); err != nil {
		return i, err
	}
	if i.UpdatedAt, err = parseTS(updated); err != nil {
		return i, err
	}
	return i, nil
}
