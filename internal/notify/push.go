package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"inspectline/internal/domain"
)

type PushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// PushResult counts per-channel deliveries for one assignee.
type PushResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Pusher sends best-effort push messages to an assignee's devices.
type Pusher interface {
	SendToAssignee(ctx context.Context, profileID string, msg PushMessage) (PushResult, error)
}

// NopPusher drops every message.
type NopPusher struct{}

func (NopPusher) SendToAssignee(context.Context, string, PushMessage) (PushResult, error) {
	return PushResult{}, nil
}

// ProfileLookup resolves assignees for push delivery.
type ProfileLookup interface {
	GetProfile(ctx context.Context, id string) (domain.Profile, error)
}

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioPusher texts the assignee's phone, and also WhatsApp when a
// WhatsApp sender is configured.
type TwilioPusher struct {
	API          messageCreator
	Profiles     ProfileLookup
	From         string
	WhatsAppFrom string
}

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	From         string
	WhatsAppFrom string
}

func NewTwilioPusher(cfg TwilioConfig, profiles ProfileLookup) (*TwilioPusher, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio: account sid and auth token are required")
	}
	if cfg.From == "" && cfg.WhatsAppFrom == "" {
		return nil, errors.New("twilio: a sender number is required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioPusher{API: client.Api, Profiles: profiles, From: cfg.From, WhatsAppFrom: cfg.WhatsAppFrom}, nil
}

func (p *TwilioPusher) SendToAssignee(ctx context.Context, profileID string, msg PushMessage) (PushResult, error) {
	var res PushResult
	profile, err := p.Profiles.GetProfile(ctx, profileID)
	if err != nil {
		return res, err
	}
	if !profile.PushCapable() {
		return res, nil
	}
	text := pushText(msg)
	var errs []error
	send := func(from, to string) {
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(from)
		params.SetBody(text)
		if _, err := p.API.CreateMessage(params); err != nil {
			res.Failed++
			errs = append(errs, err)
			return
		}
		res.Sent++
	}
	if p.From != "" {
		send(p.From, profile.Phone)
	}
	if p.WhatsAppFrom != "" {
		send("whatsapp:"+p.WhatsAppFrom, "whatsapp:"+profile.Phone)
	}
	if len(errs) > 0 {
		return res, TransportError{Channel: "twilio", Err: errors.Join(errs...)}
	}
	return res, nil
}

func pushText(msg PushMessage) string {
	parts := []string{msg.Title}
	if msg.Body != "" {
		parts = append(parts, msg.Body)
	}
	if msg.URL != "" {
		parts = append(parts, msg.URL)
	}
	return strings.Join(parts, "\n")
}

// PushFor builds the push message for an instance reminder.
func PushFor(category domain.Category, p domain.NotificationPayload, baseURL string) PushMessage {
	msg := PushMessage{
		Title: Subject(category, p.TaskName, p.LocationName),
		Body:  fmt.Sprintf("%s at %s", p.TaskName, p.LocationName),
		Tag:   string(category) + ":" + p.InstanceID,
	}
	if baseURL != "" && p.InstanceID != "" {
		msg.URL = strings.TrimRight(baseURL, "/") + "/instances/" + p.InstanceID
	}
	return msg
}
