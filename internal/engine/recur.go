package engine

import (
	"context"
	"errors"
	"time"

	"inspectline/internal/domain"
	"inspectline/internal/events"
	"inspectline/internal/repo"
	"inspectline/internal/schedule"
)

// maxCatchUp bounds how many missed periods one template may backfill in a
// single run. Daily templates idle for a year stay within it.
const maxCatchUp = 400

type RollOverResult struct {
	Created   []domain.Instance `json:"created"`
	Templates int               `json:"templates"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// RollOver creates the next instance of every active template whose latest
// instance is already due, one per elapsed period, until the newest instance
// lies in the future. Running it again at the same time creates nothing.
func (e Engine) RollOver(ctx context.Context) (RollOverResult, error) {
	res := RollOverResult{Created: []domain.Instance{}}
	templates, err := e.Repo.ListTemplates(ctx, repo.TemplateFilters{ActiveOnly: true})
	if err != nil {
		return res, err
	}
	res.Templates = len(templates)
	now := e.now()
	zones := map[string]*time.Location{}
	for _, t := range templates {
		created, err := e.rollTemplate(ctx, t, now, zones)
		res.Created = append(res.Created, created...)
		if err != nil {
			if res.Failed == nil {
				res.Failed = map[string]string{}
			}
			res.Failed[t.ID] = err.Error()
			e.logger().Warn("rollover failed", "template", t.ID, "err", err)
		}
	}
	return res, nil
}

func (e Engine) rollTemplate(ctx context.Context, t domain.Template, now time.Time, zones map[string]*time.Location) ([]domain.Instance, error) {
	tz, ok := zones[t.LocationID]
	if !ok {
		loc, err := e.Repo.GetLocation(ctx, t.LocationID)
		if err != nil {
			return nil, err
		}
		if tz, err = schedule.LoadLocation(loc.Timezone); err != nil {
			return nil, err
		}
		zones[t.LocationID] = tz
	}
	// Immediate transactions serialize writers, so the latest instance read
	// here cannot go stale before the inserts commit.
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	from := now
	latest, err := e.Repo.LatestInstanceTx(ctx, tx, t.ID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return nil, err
	case now.Before(latest.DueAt):
		return nil, nil
	default:
		from = latest.DueAt
	}

	var pending []domain.Instance
	for i := 0; i < maxCatchUp; i++ {
		due, err := schedule.NextDueDate(t.Frequency, t.Anchor, from.In(tz))
		if err != nil {
			return nil, err
		}
		pending = append(pending, newInstance(t, due, now))
		if due.After(now) {
			break
		}
		from = due
	}

	for _, inst := range pending {
		if err := e.Repo.InsertInstanceTx(ctx, tx, inst); err != nil {
			return nil, err
		}
		if err := e.appendInstanceCreated(ctx, tx, inst, events.SystemActor, "rollover"); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pending, nil
}
