package sweep

import (
	"context"
	"sort"
	"time"

	"inspectline/internal/domain"
	"inspectline/internal/notify"
	"inspectline/internal/reminder"
	"inspectline/internal/repo"
)

// digest groups unassigned overdue instances by location. Locations are
// ordered by name, instances keep their due order.
func digest(items []decision) notify.Digest {
	byLoc := map[string]*notify.DigestLocation{}
	var order []*notify.DigestLocation
	for _, d := range items {
		g, ok := byLoc[d.payload.LocationID]
		if !ok {
			g = &notify.DigestLocation{LocationID: d.payload.LocationID, LocationName: d.payload.LocationName}
			byLoc[d.payload.LocationID] = g
			order = append(order, g)
		}
		g.Instances = append(g.Instances, notify.DigestInstance{
			InstanceID: d.inst.ID,
			TaskName:   d.payload.TaskName,
			DueAt:      d.payload.DueAt,
		})
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].LocationName != order[j].LocationName {
			return order[i].LocationName < order[j].LocationName
		}
		return order[i].LocationID < order[j].LocationID
	})
	out := notify.Digest{Total: len(items), Locations: make([]notify.DigestLocation, 0, len(order))}
	for _, g := range order {
		out.Locations = append(out.Locations, *g)
	}
	return out
}

// escalate queues one digest per day and delivers it right away.
func (s Sweeper) escalate(ctx context.Context, items []decision, settings reminder.Settings, now time.Time, opts Options) Escalation {
	esc := Escalation{UnassignedCount: len(items)}
	if len(items) == 0 {
		return esc
	}
	log := s.logger()
	to := settings.EscalationEmail
	if to == "" {
		to = opts.EscalationEmail
	}
	if to == "" {
		log.Warn("unassigned overdue instances but no escalation email configured", "count", len(items))
		return esc
	}
	id, inserted, err := s.Store.Enqueue(ctx, repo.NewNotification{
		Category:       domain.CategoryEscalation,
		Destination:    to,
		Subject:        notify.DigestSubject(len(items)),
		Payload:        digest(items),
		IdempotencyKey: "escalation:" + now.In(opts.Zone).Format("2006-01-02"),
		CreatedAt:      now,
	})
	if err != nil {
		log.Warn("enqueue escalation", "err", err)
		return esc
	}
	if !inserted {
		log.Debug("escalation already queued today", "id", id)
		return esc
	}
	n, err := s.Store.GetNotification(ctx, id)
	if err != nil {
		log.Warn("load escalation", "id", id, "err", err)
		return esc
	}
	sent, _ := s.send(ctx, n, now, opts)
	esc.Sent = sent
	return esc
}
