package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"inspectline/internal/domain"
)

type fakeProfiles map[string]domain.Profile

func (f fakeProfiles) GetProfile(_ context.Context, id string) (domain.Profile, error) {
	p, ok := f[id]
	if !ok {
		return domain.Profile{}, domain.NotFoundError{Entity: "profile", ID: id}
	}
	return p, nil
}

type fakeTwilio struct {
	to   []string
	fail map[string]bool
}

func (f *fakeTwilio) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	to := *params.To
	f.to = append(f.to, to)
	if f.fail[to] {
		return nil, errors.New("undeliverable")
	}
	return &twilioApi.ApiV2010Message{}, nil
}

func TestTwilioPusherSendsSMSAndWhatsApp(t *testing.T) {
	api := &fakeTwilio{}
	p := &TwilioPusher{
		API:          api,
		Profiles:     fakeProfiles{"p1": {ID: "p1", Phone: "+15550001"}},
		From:         "+15559999",
		WhatsAppFrom: "+15558888",
	}
	res, err := p.SendToAssignee(context.Background(), "p1", PushMessage{Title: "Overdue: Fire drill (North)"})
	require.NoError(t, err)
	assert.Equal(t, PushResult{Sent: 2}, res)
	assert.Equal(t, []string{"+15550001", "whatsapp:+15550001"}, api.to)
}

func TestTwilioPusherSkipsProfilesWithoutPhone(t *testing.T) {
	api := &fakeTwilio{}
	p := &TwilioPusher{API: api, Profiles: fakeProfiles{"p1": {ID: "p1"}}, From: "+15559999"}
	res, err := p.SendToAssignee(context.Background(), "p1", PushMessage{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, PushResult{}, res)
	assert.Empty(t, api.to)
}

func TestTwilioPusherCountsFailures(t *testing.T) {
	api := &fakeTwilio{fail: map[string]bool{"whatsapp:+15550001": true}}
	p := &TwilioPusher{
		API:          api,
		Profiles:     fakeProfiles{"p1": {ID: "p1", Phone: "+15550001"}},
		From:         "+15559999",
		WhatsAppFrom: "+15558888",
	}
	res, err := p.SendToAssignee(context.Background(), "p1", PushMessage{Title: "x"})
	require.Error(t, err)
	var te TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "twilio", te.Channel)
	assert.Equal(t, PushResult{Sent: 1, Failed: 1}, res)
}

func TestPushForBuildsLink(t *testing.T) {
	msg := PushFor(domain.CategoryOverdue, domain.NotificationPayload{
		InstanceID: "i1", TaskName: "Fire drill", LocationName: "North",
	}, "https://app.example.com/")
	assert.Equal(t, "Overdue: Fire drill (North)", msg.Title)
	assert.Equal(t, "https://app.example.com/instances/i1", msg.URL)
	assert.Equal(t, "overdue:i1", msg.Tag)
}
