package repo

import (
	"context"
	"fmt"

	"inspectline/internal/domain"
)

func (r Repo) InsertLocation(ctx context.Context, l domain.Location) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO locations(id,name,timezone,created_at) VALUES (?,?,?,?)`,
		l.ID, l.Name, l.Timezone, formatTS(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

func (r Repo) GetLocation(ctx context.Context, id string) (domain.Location, error) {
	var l domain.Location
	var created string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,timezone,created_at FROM locations WHERE id=?`, id).
		Scan(&l.ID, &l.Name, &l.Timezone, &created)
	if err != nil {
		return l, notFound(err, "location", id)
	}
	l.CreatedAt, err = parseTS(created)
	return l, err
}

func (r Repo) ListLocations(ctx context.Context) ([]domain.Location, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,timezone,created_at FROM locations ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Location
	for rows.Next() {
		var l domain.Location
		var created string
		if err := rows.Scan(&l.ID, &l.Name, &l.Timezone, &created); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
