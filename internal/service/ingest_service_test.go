package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxd/omnichannel-backend/internal/connector"
	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/repository"
	"github.com/inboxd/omnichannel-backend/internal/service"
)

// --- Fake connector ---

type fakeConnector struct {
	mu       sync.Mutex
	sends    []string
	result   connector.Result
	inbound  []connector.InboundMessage
	statuses []connector.StatusUpdate
	verifyOK bool
}

func (f *fakeConnector) SendText(ctx context.Context, recipient, text string) connector.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, "text:"+recipient+":"+text)
	return f.result
}

func (f *fakeConnector) SendMedia(ctx context.Context, recipient string, content model.Content) connector.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, "media:"+recipient)
	return f.result
}

func (f *fakeConnector) SendTemplate(ctx context.Context, recipient, templateID string, vars map[string]string) connector.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, "template:"+recipient+":"+templateID)
	return f.result
}

func (f *fakeConnector) ParseWebhook(payload []byte) ([]connector.InboundMessage, []connector.StatusUpdate, error) {
	return f.inbound, f.statuses, nil
}

func (f *fakeConnector) VerifyWebhook(rawBody []byte, signature string) bool { return f.verifyOK }

func (f *fakeConnector) CheckHealth(ctx context.Context) connector.HealthStatus {
	return connector.HealthStatus{Healthy: true, Message: "ok"}
}

func (f *fakeConnector) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

// --- Test fixture ---

type fixture struct {
	accounts *repository.MemoryChannelAccountRepository
	convs    *repository.MemoryConversationRepository
	msgs     *repository.MemoryMessageRepository
	leads    *repository.MemoryLeadRepository
	rules    *repository.MemoryAutomationRepository
	conn     *fakeConnector
	ingest   *service.IngestService
	account  *model.ChannelAccount
}

func newFixture(t *testing.T, channel model.ChannelType, provider string) *fixture {
	t.Helper()
	f := &fixture{
		accounts: repository.NewMemoryChannelAccountRepository(),
		convs:    repository.NewMemoryConversationRepository(),
		msgs:     repository.NewMemoryMessageRepository(),
		leads:    repository.NewMemoryLeadRepository(),
		rules:    repository.NewMemoryAutomationRepository(),
		conn:     &fakeConnector{verifyOK: true, result: connector.Result{Success: true, ExternalID: "prov-1", Status: model.StatusSent}},
	}
	f.account = &model.ChannelAccount{
		TenantID:    "t1",
		ChannelType: channel,
		Provider:    provider,
		ExternalID:  "ext-1",
	}
	require.NoError(t, f.accounts.Create(f.account))

	builder := func(a *model.ChannelAccount) (connector.Connector, error) { return f.conn, nil }
	outbound := service.NewOutboundService(f.accounts, f.convs, f.msgs, builder)
	automation := service.NewAutomationService(f.rules, f.convs, f.leads, outbound)
	f.ingest = &service.IngestService{
		AccountRepo:      f.accounts,
		ConversationRepo: f.convs,
		MessageRepo:      f.msgs,
		LeadRepo:         f.leads,
		Connectors:       builder,
		Automation:       automation,
	}
	return f
}

func inboundText(externalID, sender, text string) connector.InboundMessage {
	im := connector.InboundMessage{
		ExternalID:  externalID,
		SenderID:    sender,
		SenderPhone: sender,
		Type:        model.TypeText,
		Text:        text,
		Timestamp:   time.Now().UTC(),
	}
	im.Content.Text = text
	return im
}

func (f *fixture) conversation(t *testing.T) *model.Conversation {
	t.Helper()
	convs, err := f.convs.ListByAccount(f.account.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	return convs[0]
}

// --- Tests ---

func TestProcessInboundCreatesConversation(t *testing.T) {
	f := newFixture(t, model.ChannelWhatsApp, model.ProviderWhatsApp)

	err := f.ingest.ProcessInbound(f.account, inboundText("wamid.1", "+27821110000", "hello"))
	require.NoError(t, err)

	conv := f.conversation(t)
	assert.Equal(t, model.ConversationOpen, conv.Status)
	assert.Equal(t, "+27821110000", conv.ContactIdentifier)
	assert.Equal(t, 1, conv.MessageCount)
	assert.Equal(t, 1, conv.UnreadCount)
	require.NotNil(t, conv.WindowExpiresAt, "whatsapp inbound must open the send window")
	assert.False(t, conv.RequiresTemplate)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *conv.WindowExpiresAt, time.Minute)

	msgs, err := f.msgs.ListByConversation(conv.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.DirectionIn, msgs[0].Direction)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, model.StatusDelivered, msgs[0].Status)
	require.NotNil(t, msgs[0].DeliveredAt, "inbound messages carry their delivery time")
	assert.WithinDuration(t, time.Now(), *msgs[0].DeliveredAt, time.Minute)
}

func TestWindowArmedFromIngestionTime(t *testing.T) {
	f := newFixture(t, model.ChannelWhatsApp, model.ProviderWhatsApp)

	// A delayed delivery must not shorten the reply window.
	im := inboundText("wamid.late", "+27821110000", "delayed")
	im.Timestamp = time.Now().Add(-6 * time.Hour)
	require.NoError(t, f.ingest.ProcessInbound(f.account, im))

	conv := f.conversation(t)
	require.NotNil(t, conv.WindowExpiresAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *conv.WindowExpiresAt, time.Minute)
}

func TestProcessInboundIsIdempotent(t *testing.T) {
	f := newFixture(t, model.ChannelWhatsApp, model.ProviderWhatsApp)

	im := inboundText("wamid.dup", "+27821110000", "hello")
	require.NoError(t, f.ingest.ProcessInbound(f.account, im))
	require.NoError(t, f.ingest.ProcessInbound(f.account, im))

	conv := f.conversation(t)
	assert.Equal(t, 1, conv.MessageCount, "redelivery must not bump counters")
	assert.Equal(t, 1, conv.UnreadCount)

	msgs, err := f.msgs.ListByConversation(conv.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestProcessInboundConcurrentSameContact(t *testing.T) {
	f := newFixture(t, model.ChannelSMS, model.ProviderBulkSMS)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			im := inboundText(fmt.Sprintf("sms-%d", n), "+27821110000", fmt.Sprintf("msg %d", n))
			_ = f.ingest.ProcessInbound(f.account, im)
		}(i)
	}
	wg.Wait()

	conv := f.conversation(t)
	assert.Equal(t, 10, conv.MessageCount)

	msgs, err := f.msgs.ListByConversation(conv.ID, 0, 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 10)
}

func TestProcessInboundReopensClosedConversation(t *testing.T) {
	f := newFixture(t, model.ChannelSMS, model.ProviderBulkSMS)

	require.NoError(t, f.ingest.ProcessInbound(f.account, inboundText("sms-1", "+27821110000", "first")))
	conv := f.conversation(t)
	require.NoError(t, f.convs.UpdateStatus(conv.ID, model.ConversationClosed))

	require.NoError(t, f.ingest.ProcessInbound(f.account, inboundText("sms-2", "+27821110000", "again")))

	conv = f.conversation(t)
	assert.Equal(t, model.ConversationOpen, conv.Status)
}

func TestLeadLinkedAtCreationOnly(t *testing.T) {
	f := newFixture(t, model.ChannelSMS, model.ProviderBulkSMS)

	lead := &model.Lead{TenantID: "t1", Name: "Thabo", Phone: "+27821110000"}
	require.NoError(t, f.leads.Create(lead))

	require.NoError(t, f.ingest.ProcessInbound(f.account, inboundText("sms-1", "+27821110000", "hi")))
	conv := f.conversation(t)
	assert.Equal(t, lead.ID, conv.LeadID)

	// A lead appearing after the conversation exists is not retro-linked.
	require.NoError(t, f.ingest.ProcessInbound(f.account, inboundText("sms-2", "+27839998888", "yo")))
	other := &model.Lead{TenantID: "t1", Name: "Lerato", Phone: "+27839998888"}
	require.NoError(t, f.leads.Create(other))
	require.NoError(t, f.ingest.ProcessInbound(f.account, inboundText("sms-3", "+27839998888", "again")))

	convs, err := f.convs.ListByAccount(f.account.ID, 0, 10)
	require.NoError(t, err)
	for _, c := range convs {
		if c.ContactIdentifier == "+27839998888" {
			assert.Empty(t, c.LeadID)
		}
	}
}

func TestApplyStatusIsMonotonic(t *testing.T) {
	f := newFixture(t, model.ChannelWhatsApp, model.ProviderWhatsApp)

	require.NoError(t, f.ingest.ProcessInbound(f.account, inboundText("wamid.1", "+27821110000", "hi")))
	conv := f.conversation(t)

	out := &model.Message{
		ConversationID: conv.ID,
		ExternalID:     "wamid.out",
		Direction:      model.DirectionOut,
		Type:           model.TypeText,
		Text:           "reply",
		Status:         model.StatusSent,
	}
	_, err := f.msgs.Insert(out)
	require.NoError(t, err)

	now := time.Now().UTC()
	apply := func(status model.MessageStatus) bool {
		t.Helper()
		applied, err := f.msgs.ApplyStatus("wamid.out", status, now, "", "")
		require.NoError(t, err)
		return applied
	}

	assert.True(t, apply(model.StatusDelivered))
	assert.False(t, apply(model.StatusSent), "out-of-order receipt must be dropped")
	assert.True(t, apply(model.StatusRead))
	assert.False(t, apply(model.StatusFailed), "failed after delivered must be dropped")

	msg, err := f.msgs.GetByExternalID("wamid.out")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, msg.Status)
}

func TestApplyStatusUnknownMessageIsNoop(t *testing.T) {
	f := newFixture(t, model.ChannelSMS, model.ProviderClickatell)

	err := f.ingest.ApplyStatus(f.account, connector.StatusUpdate{
		ExternalID: "never-seen",
		Status:     model.StatusDelivered,
		Timestamp:  time.Now(),
	})
	assert.NoError(t, err, "receipts for unknown messages are dropped, not errors")
}

func TestProcessRawDispatchesMessagesAndStatuses(t *testing.T) {
	f := newFixture(t, model.ChannelWhatsApp, model.ProviderWhatsApp)

	require.NoError(t, f.ingest.ProcessInbound(f.account, inboundText("wamid.1", "+27821110000", "hi")))
	conv := f.conversation(t)
	out := &model.Message{
		ConversationID: conv.ID,
		ExternalID:     "wamid.out",
		Direction:      model.DirectionOut,
		Type:           model.TypeText,
		Status:         model.StatusSent,
	}
	_, err := f.msgs.Insert(out)
	require.NoError(t, err)

	f.conn.inbound = []connector.InboundMessage{inboundText("wamid.2", "+27821110000", "more")}
	f.conn.statuses = []connector.StatusUpdate{
		{ExternalID: "wamid.out", Status: model.StatusDelivered, Timestamp: time.Now()},
	}

	require.NoError(t, f.ingest.ProcessRaw(f.account.ID, []byte(`{}`)))

	conv = f.conversation(t)
	assert.Equal(t, 2, conv.MessageCount)

	msg, err := f.msgs.GetByExternalID("wamid.out")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, msg.Status)
}

func TestProcessRawScopesBatchedEntriesToAccount(t *testing.T) {
	accounts := repository.NewMemoryChannelAccountRepository()
	convs := repository.NewMemoryConversationRepository()
	msgs := repository.NewMemoryMessageRepository()

	acctA := &model.ChannelAccount{TenantID: "t1", ChannelType: model.ChannelWhatsApp, Provider: model.ProviderWhatsApp, ExternalID: "pn-a"}
	acctB := &model.ChannelAccount{TenantID: "t1", ChannelType: model.ChannelWhatsApp, Provider: model.ProviderWhatsApp, ExternalID: "pn-b"}
	require.NoError(t, accounts.Create(acctA))
	require.NoError(t, accounts.Create(acctB))

	ingest := &service.IngestService{
		AccountRepo:      accounts,
		ConversationRepo: convs,
		MessageRepo:      msgs,
		Connectors: func(a *model.ChannelAccount) (connector.Connector, error) {
			return connector.ForAccount(a, connector.Deps{})
		},
	}

	// Meta batches entries for several phone numbers into one delivery;
	// the gateway enqueues the full body once per resolved account.
	payload := []byte(`{
	  "object": "whatsapp_business_account",
	  "entry": [
	    {"changes": [{"value": {
	      "metadata": {"phone_number_id": "pn-a"},
	      "messages": [{"id": "wamid.a1", "from": "27821110001", "timestamp": "1700000000", "type": "text", "text": {"body": "for A"}}]
	    }}]},
	    {"changes": [{"value": {
	      "metadata": {"phone_number_id": "pn-b"},
	      "messages": [{"id": "wamid.b1", "from": "27821110002", "timestamp": "1700000000", "type": "text", "text": {"body": "for B"}}]
	    }}]}
	  ]
	}`)

	require.NoError(t, ingest.ProcessRaw(acctA.ID, payload))
	require.NoError(t, ingest.ProcessRaw(acctB.ID, payload))

	convsA, err := convs.ListByAccount(acctA.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, convsA, 1, "each account keeps only its own entry")
	assert.Equal(t, "27821110001", convsA[0].ContactIdentifier)

	convsB, err := convs.ListByAccount(acctB.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, convsB, 1)
	assert.Equal(t, "27821110002", convsB[0].ContactIdentifier)
}
