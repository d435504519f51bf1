package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"inspectline/internal/domain"
)

// ErrNotFailed is returned when requeueing a notification that has not failed.
var ErrNotFailed = errors.New("only failed notifications can be requeued")

// NewNotification is an intended send. Payload is marshaled to JSON.
type NewNotification struct {
	Category       domain.Category
	Destination    string
	Subject        string
	Payload        any
	IdempotencyKey string
	RequeuedFrom   string
	CreatedAt      time.Time
}

type NotificationFilters struct {
	Status   string
	Category string
	Limit    int
}

const notificationColumns = `id,category,destination,subject,payload_json,status,idempotency_key,requeued_from,error,created_at,sent_at`

// Enqueue stores a queued notification. When the idempotency key is already
// taken it returns the existing id and inserted=false.
func (r Repo) Enqueue(ctx context.Context, n NewNotification) (id string, inserted bool, err error) {
	if strings.TrimSpace(n.Destination) == "" {
		return "", false, errors.New("notification destination is required")
	}
	payload := []byte("{}")
	if n.Payload != nil {
		if payload, err = json.Marshal(n.Payload); err != nil {
			return "", false, fmt.Errorf("marshal notification payload: %w", err)
		}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	id = uuid.NewString()
	res, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,category,destination,subject,payload_json,status,idempotency_key,requeued_from,created_at)
VALUES (?,?,?,?,?,'queued',?,?,?) ON CONFLICT(idempotency_key) DO NOTHING`,
		id, string(n.Category), n.Destination, n.Subject, string(payload), nullable(n.IdempotencyKey), nullable(n.RequeuedFrom), formatTS(n.CreatedAt))
	if err != nil {
		return "", false, fmt.Errorf("enqueue notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("enqueue notification: %w", err)
	}
	if affected == 1 {
		return id, true, nil
	}
	var existing string
	if err := r.DB.QueryRowContext(ctx, `SELECT id FROM notifications WHERE idempotency_key=?`, n.IdempotencyKey).Scan(&existing); err != nil {
		return "", false, fmt.Errorf("lookup duplicate notification: %w", err)
	}
	return existing, false, nil
}

// Drain returns up to limit queued notifications, oldest first.
func (r Repo) Drain(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE status='queued' ORDER BY created_at ASC, rowid ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

// MarkSent moves a queued notification to sent. It reports false when the
// notification was no longer queued.
func (r Repo) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET status='sent', sent_at=? WHERE id=? AND status='queued'`, formatTS(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkFailed moves a queued notification to failed with reason.
func (r Repo) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET status='failed', error=? WHERE id=? AND status='queued'`, reason, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Requeue copies a failed notification into a fresh queued one. The failed
// record keeps its status.
func (r Repo) Requeue(ctx context.Context, id string, now time.Time) (domain.Notification, error) {
	orig, err := r.GetNotification(ctx, id)
	if err != nil {
		return domain.Notification{}, err
	}
	if orig.Status != domain.NotificationFailed {
		return domain.Notification{}, ErrNotFailed
	}
	newID, _, err := r.Enqueue(ctx, NewNotification{
		Category:     orig.Category,
		Destination:  orig.Destination,
		Subject:      orig.Subject,
		Payload:      json.RawMessage(orig.Payload),
		RequeuedFrom: orig.ID,
		CreatedAt:    now,
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return r.GetNotification(ctx, newID)
}

// ClaimPush records that key has been pushed. It reports false when an
// earlier sweep already claimed it.
func (r Repo) ClaimPush(ctx context.Context, key, profileID string, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO push_log(key,profile_id,sent_at) VALUES (?,?,?) ON CONFLICT(key) DO NOTHING`,
		key, profileID, formatTS(at))
	if err != nil {
		return false, fmt.Errorf("claim push: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim push: %w", err)
	}
	return n == 1, nil
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id)
	if err != nil {
		return domain.Notification{}, err
	}
	items, err := scanNotifications(rows)
	if err != nil {
		return domain.Notification{}, err
	}
	if len(items) == 0 {
		return domain.Notification{}, domain.NotFoundError{Entity: "notification", ID: id}
	}
	return items[0], nil
}

// ListNotifications returns newest first.
func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	args = append(args, normalizeLimit(f.Limit, 50, 500))
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

// CountNotifications groups notification counts by status.
func (r Repo) CountNotifications(ctx context.Context) (map[domain.NotificationStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[domain.NotificationStatus]int{}
	for rows.Next() {
		var s string
		var c int
		if err := rows.Scan(&s, &c); err != nil {
			return nil, err
		}
		counts[domain.NotificationStatus(s)] = c
	}
	return counts, rows.Err()
}

func scanNotifications(rows *sql.Rows) ([]domain.Notification, error) {
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var category, status, created string
		var key, requeued, errMsg, sent sql.NullString
		if err := rows.Scan(&n.ID, &category, &n.Destination, &n.Subject, &n.Payload, &status, &key, &requeued, &errMsg, &created, &sent); err != nil {
			return nil, err
		}
		n.Category = domain.Category(category)
		n.Status = domain.NotificationStatus(status)
		n.IdempotencyKey = strPtr(key)
		n.RequeuedFrom = strPtr(requeued)
		n.Error = strPtr(errMsg)
		var err error
		if n.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		if n.SentAt, err = parseNullTS(sent); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
