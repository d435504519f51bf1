package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"inspectline/internal/domain"
	"inspectline/internal/engine/auth"
	"inspectline/internal/events"
	"inspectline/internal/repo"
)

const apiKeyPrefix = "il_"

// CreateAPIKey issues a key acting as profileID. The plaintext key is only
// returned here; the store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, profileID, name string, actor auth.Actor) (string, domain.APIKey, error) {
	if !actor.Role.Privileged() && actor.ProfileID != profileID {
		return "", domain.APIKey{}, auth.ForbiddenError{Permission: "api_key.create"}
	}
	if _, err := e.Repo.GetProfile(ctx, profileID); err != nil {
		return "", domain.APIKey{}, err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().UTC(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := e.Events.AppendNow(ctx, events.Entry{
		Type: events.APIKeyCreated, EntityKind: "api_key", EntityID: key.ID, ActorID: actor.ProfileID,
	}, events.EventPayload{"profile_id": profileID, "name": key.Name}); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

// AuthenticateAPIKey resolves a presented key to its profile id.
func (e Engine) AuthenticateAPIKey(ctx context.Context, plain string) (domain.APIKey, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if err != nil {
		return key, err
	}
	if err := e.Repo.TouchAPIKey(ctx, key.ID, e.now()); err != nil {
		e.logger().Warn("record api key use", "key", key.ID, "err", err)
	}
	return key, nil
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string, actor auth.Actor) error {
	if !actor.Role.Privileged() {
		return auth.ForbiddenError{Permission: "api_key.revoke"}
	}
	if err := e.Repo.DeleteAPIKey(ctx, id); err != nil {
		return err
	}
	return e.Events.AppendNow(ctx, events.Entry{
		Type: events.APIKeyRevoked, EntityKind: "api_key", EntityID: id, ActorID: actor.ProfileID,
	}, nil)
}
