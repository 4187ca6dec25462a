package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxd/omnichannel-backend/internal/connector"
	appErrors "github.com/inboxd/omnichannel-backend/internal/errors"
	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/service"
)

func newOutbound(t *testing.T, f *fixture) *service.OutboundService {
	t.Helper()
	builder := func(a *model.ChannelAccount) (connector.Connector, error) { return f.conn, nil }
	return service.NewOutboundService(f.accounts, f.convs, f.msgs, builder)
}

func TestSubmitTextSuccess(t *testing.T) {
	f := newFixture(t, model.ChannelWhatsApp, model.ProviderWhatsApp)
	conv := ingestOne(t, f, "m1", "hello")
	out := newOutbound(t, f)

	msg, err := out.Submit(context.Background(), conv.ID, service.MessageSpec{Text: "hi there"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, "prov-1", msg.ExternalID)
	assert.Equal(t, model.DirectionOut, msg.Direction)

	conv = f.conversation(t)
	assert.Equal(t, 2, conv.MessageCount)
	require.NotNil(t, conv.FirstResponseAt)
	require.NotNil(t, conv.LastOutboundAt)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, model.ChannelWhatsApp, model.ProviderWhatsApp)
	conv := ingestOne(t, f, "m1", "hello")
	out := newOutbound(t, f)

	_, err := out.Submit(context.Background(), conv.ID, service.MessageSpec{Type: model.TypeText})
	var ve *appErrors.ErrValidation
	require.ErrorAs(t, err, &ve)

	_, err = out.Submit(context.Background(), conv.ID, service.MessageSpec{Type: model.TypeTemplate})
	require.ErrorAs(t, err, &ve)
}

func TestSubmitUnknownConversation(t *testing.T) {
	f := newFixture(t, model.ChannelWhatsApp, model.ProviderWhatsApp)
	out := newOutbound(t, f)

	_, err := out.Submit(context.Background(), "nope", service.MessageSpec{Text: "hi"})
	var nf *appErrors.ErrConversationNotFound
	require.ErrorAs(t, err, &nf)
}

func TestSubmitWindowClosed(t *testing.T) {
	f := newFixture(t, model.ChannelWhatsApp, model.ProviderWhatsApp)
	conv := ingestOne(t, f, "m1", "hello")
	out := newOutbound(t, f)

	// Age the window out by applying an inbound stamped 25 hours ago.
	old := time.Now().Add(-25 * time.Hour)
	expired := old.Add(24 * time.Hour)
	require.NoError(t, f.convs.ApplyInbound(conv.ID, old, &expired))

	_, err := out.Submit(context.Background(), conv.ID, service.MessageSpec{Text: "too late"})
	var wc *appErrors.ErrWindowClosed
	require.ErrorAs(t, err, &wc)

	// Templates go through regardless of the window.
	msg, err := out.Submit(context.Background(), conv.ID, service.MessageSpec{
		Type:       model.TypeTemplate,
		TemplateID: "followup",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, msg.Status)
}

func TestSubmitDailyLimit(t *testing.T) {
	f := newFixture(t, model.ChannelSMS, model.ProviderBulkSMS)
	out := newOutbound(t, f)

	limited := &model.ChannelAccount{
		TenantID:    "t1",
		ChannelType: model.ChannelSMS,
		Provider:    model.ProviderBulkSMS,
		ExternalID:  "ext-limited",
		DailyLimit:  2,
	}
	require.NoError(t, f.accounts.Create(limited))
	require.NoError(t, f.ingest.ProcessInbound(limited, inboundText("m1", "+27824440000", "hello")))

	convs, err := f.convs.ListByAccount(limited.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	conv := convs[0]

	var okCount, limitCount int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := out.Submit(context.Background(), conv.ID, service.MessageSpec{Text: "bulk"})
			if err == nil {
				atomic.AddInt64(&okCount, 1)
				return
			}
			if _, ok := err.(*appErrors.ErrRateLimitExceeded); ok {
				atomic.AddInt64(&limitCount, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, okCount, "exactly the daily limit may succeed")
	assert.EqualValues(t, 3, limitCount)
}

func TestSubmitProviderFailureIsPersisted(t *testing.T) {
	f := newFixture(t, model.ChannelWhatsApp, model.ProviderWhatsApp)
	conv := ingestOne(t, f, "m1", "hello")
	out := newOutbound(t, f)

	f.conn.result = connector.Result{
		Success:      false,
		Status:       model.StatusFailed,
		ErrorCode:    "131047",
		ErrorMessage: "re-engagement message required",
	}

	msg, err := out.Submit(context.Background(), conv.ID, service.MessageSpec{Text: "hi"})
	require.NoError(t, err, "provider rejection is a result, not a Go error")
	assert.Equal(t, model.StatusFailed, msg.Status)
	assert.Equal(t, "131047", msg.ErrorCode)

	conv = f.conversation(t)
	assert.Nil(t, conv.LastOutboundAt, "failed send must not stamp outbound activity")
}

func TestSubmitEmail(t *testing.T) {
	f := newFixture(t, model.ChannelEmail, model.ProviderEmail365)
	im := connector.InboundMessage{
		ExternalID:  "graph-1",
		SenderID:    "customer@example.com",
		SenderEmail: "customer@example.com",
		Type:        model.TypeEmail,
		Text:        "Need a quote",
		Timestamp:   time.Now(),
	}
	require.NoError(t, f.ingest.ProcessInbound(f.account, im))
	conv := f.conversation(t)
	out := newOutbound(t, f)

	// fakeConnector does not implement EmailSender, so the send comes back
	// as an unsupported failure rather than an error.
	msg, err := out.Submit(context.Background(), conv.ID, service.MessageSpec{
		Type:    model.TypeEmail,
		Content: model.Content{Subject: "Your quote", Body: "See attached."},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, msg.Status)
	assert.Equal(t, "unsupported", msg.ErrorCode)
}
