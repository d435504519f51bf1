package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"inspectline/internal/domain"
)

func (r Repo) InsertProfile(ctx context.Context, p domain.Profile) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO profiles(id,email,name,role,phone,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, nullable(p.Email), p.Name, string(p.Role), nullable(p.Phone), formatTS(p.CreatedAt)); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	for _, loc := range p.LocationIDs {
		if err := r.GrantLocation(ctx, tx, p.ID, loc); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GrantLocation lets a profile work at a location.
func (r Repo) GrantLocation(ctx context.Context, tx *sql.Tx, profileID, locationID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO profile_locations(profile_id, location_id) VALUES (?,?)`, profileID, locationID)
	return err
}

func (r Repo) RevokeLocation(ctx context.Context, tx *sql.Tx, profileID, locationID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM profile_locations WHERE profile_id=? AND location_id=?`, profileID, locationID)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(email,''),name,role,COALESCE(phone,''),created_at FROM profiles WHERE id=?`, id)
	p, err := scanProfile(row)
	if err != nil {
		return p, notFound(err, "profile", id)
	}
	locs, err := r.profileLocations(ctx, id)
	if err != nil {
		return p, err
	}
	p.LocationIDs = locs
	return p, nil
}

// ListProfiles returns profiles, optionally only those granted locationID.
func (r Repo) ListProfiles(ctx context.Context, locationID string) ([]domain.Profile, error) {
	query := `SELECT id,COALESCE(email,''),name,role,COALESCE(phone,''),created_at FROM profiles`
	var args []any
	if locationID != "" {
		query += ` WHERE id IN (SELECT profile_id FROM profile_locations WHERE location_id=?)`
		args = append(args, locationID)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		locs, err := r.profileLocations(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].LocationIDs = locs
	}
	return res, nil
}

func (r Repo) profileLocations(ctx context.Context, profileID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT location_id FROM profile_locations WHERE profile_id=? ORDER BY location_id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	locs := []string{}
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		locs = append(locs, l)
	}
	return locs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (domain.Profile, error) {
	var p domain.Profile
	var role, created string
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &role, &p.Phone, &created); err != nil {
		return p, err
	}
	p.Role = domain.Role(role)
	ts, err := parseTS(created)
	if err != nil {
		return p, err
	}
	p.CreatedAt = ts
	p.Email = strings.TrimSpace(p.Email)
	return p, nil
}
