package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine and the sweep.
const (
	TemplateCreated       = "template.created"
	TemplateDeactivated   = "template.deactivated"
	InstanceCreated       = "instance.created"
	InstanceTransitioned  = "instance.transitioned"
	InstanceReinspection  = "instance.reinspection"
	NotificationRequeued  = "notification.requeued"
	ReminderSettingsSaved = "reminder_settings.saved"
	SweepCompleted        = "sweep.completed"
	APIKeyCreated         = "api_key.created"
	APIKeyRevoked         = "api_key.revoked"
)

// SystemActor is recorded for mutations not made on behalf of a person.
const SystemActor = "system"

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Entry locates an event: the entity it describes and the location it belongs to.
type Entry struct {
	Type       string
	EntityKind string
	EntityID   string
	LocationID string
	ActorID    string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if e.ActorID == "" {
		e.ActorID = SystemActor
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,location_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Type, e.EntityKind, nullable(e.EntityID), nullable(e.LocationID), e.ActorID, string(data))
	return err
}

// AppendNow writes a single event in its own transaction.
func (w Writer) AppendNow(ctx context.Context, e Entry, payload EventPayload) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, e, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
