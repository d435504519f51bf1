package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"inspectline/internal/engine"
	"inspectline/internal/signature"
	"inspectline/internal/sweep"
)

type sweepOutput struct {
	Body sweep.Result `json:"body"`
}

// registerTriggers exposes the sweep to schedulers. The cron and webhook
// routes differ only in how the caller proves itself.
func registerTriggers(api huma.API, cfg Config) {
	log := cfg.Logger
	runSweep := func(ctx context.Context, via string) (*sweepOutput, error) {
		res, err := cfg.Sweeper.Run(ctx)
		if err != nil {
			log.Error("sweep failed", "trigger", via, "err", err)
			return nil, newAPIError(http.StatusInternalServerError, "sweep_failed", err.Error(), nil)
		}
		return &sweepOutput{Body: res}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "cron-reminders",
		Method:      http.MethodPost,
		Path:        "/cron/reminders",
		Summary:     "Run the reminder sweep (bearer cron secret)",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Authorization string `header:"Authorization"`
	}) (*sweepOutput, error) {
		if err := checkCronSecret(cfg.Auth.CronSecret, input.Authorization); err != nil {
			return nil, err
		}
		return runSweep(ctx, "cron")
	})

	huma.Register(api, huma.Operation{
		OperationID: "webhook-reminders",
		Method:      http.MethodPost,
		Path:        "/webhooks/reminders",
		Summary:     "Run the reminder sweep (HMAC signed)",
		Description: "The signature header carries sha256=hex(HMAC(secret, timestamp + \".\" + body)).",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Signature string `header:"X-Inspectline-Signature"`
		Timestamp string `header:"X-Inspectline-Timestamp"`
	}) (*sweepOutput, error) {
		if cfg.Auth.WebhookSecret == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "webhook secret not configured", nil)
		}
		err := signature.Verify(cfg.Auth.WebhookSecret, input.Signature, input.Timestamp, bodyBytes(ctx), cfg.Now())
		if err != nil {
			code := "invalid_signature"
			if errors.Is(err, signature.ErrTimestamp) {
				code = "stale_timestamp"
			}
			return nil, newAPIError(http.StatusUnauthorized, code, err.Error(), nil)
		}
		return runSweep(ctx, "webhook")
	})

	huma.Register(api, huma.Operation{
		OperationID: "cron-recurrence",
		Method:      http.MethodPost,
		Path:        "/cron/recurrence",
		Summary:     "Generate the next instances of active templates (bearer cron secret)",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Authorization string `header:"Authorization"`
	}) (*struct {
		Body engine.RollOverResult `json:"body"`
	}, error) {
		if err := checkCronSecret(cfg.Auth.CronSecret, input.Authorization); err != nil {
			return nil, err
		}
		res, err := cfg.Engine.RollOver(ctx)
		if err != nil {
			log.Error("recurrence failed", "err", err)
			return nil, handleError(err)
		}
		return &struct {
			Body engine.RollOverResult `json:"body"`
		}{Body: res}, nil
	})
}

func checkCronSecret(secret, authz string) error {
	if secret == "" {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "cron secret not configured", nil)
	}
	token, ok := bearerToken(authz)
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
	}
	return nil
}
