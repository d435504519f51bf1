package app

import (
	"context"
	"errors"
	"fmt"

	"inspectline/internal/engine/auth"
	"inspectline/internal/events"
	"inspectline/internal/repo"
)

// ResolveActor turns a profile id into the actor operations run as. An
// empty id or "system" is the system actor used by local operator tooling.
func ResolveActor(ctx context.Context, r repo.Repo, profileID string) (auth.Actor, error) {
	if profileID == "" || profileID == events.SystemActor {
		return auth.System, nil
	}
	p, err := r.GetProfile(ctx, profileID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return auth.Actor{}, fmt.Errorf("profile %s not found; create it with il profile create", profileID)
		}
		return auth.Actor{}, err
	}
	return auth.ActorFromProfile(p), nil
}
