package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"inspectline/internal/reminder"
)

// GetReminderSettings returns the stored settings layered over the defaults.
// It returns ErrNotFound when nothing was ever saved.
func (r Repo) GetReminderSettings(ctx context.Context) (reminder.Settings, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT settings_json FROM reminder_settings WHERE id=1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Settings{}, ErrNotFound
	}
	if err != nil {
		return reminder.Settings{}, err
	}
	s := reminder.Defaults()
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return reminder.Settings{}, fmt.Errorf("decode reminder settings: %w", err)
	}
	return s, nil
}

func (r Repo) SaveReminderSettingsTx(ctx context.Context, tx *sql.Tx, s reminder.Settings, now time.Time) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO reminder_settings(id,settings_json,updated_at) VALUES (1,?,?)
ON CONFLICT(id) DO UPDATE SET settings_json=excluded.settings_json, updated_at=excluded.updated_at`, string(data), formatTS(now))
	return err
}
