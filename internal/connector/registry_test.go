package connector

import (
	"testing"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

func TestForAccountResolvesEveryProvider(t *testing.T) {
	providers := []struct {
		provider string
		channel  model.ChannelType
	}{
		{model.ProviderWhatsApp, model.ChannelWhatsApp},
		{model.ProviderFacebook, model.ChannelFacebook},
		{model.ProviderInstagram, model.ChannelInstagram},
		{model.ProviderBulkSMS, model.ChannelSMS},
		{model.ProviderClickatell, model.ChannelSMS},
		{model.ProviderEmail365, model.ChannelEmail},
	}

	for _, p := range providers {
		account := &model.ChannelAccount{
			Provider:    p.provider,
			ChannelType: p.channel,
			ExternalID:  "ext-1",
		}
		conn, err := ForAccount(account, Deps{})
		if err != nil {
			t.Fatalf("%s: %v", p.provider, err)
		}
		if conn == nil {
			t.Fatalf("%s: nil connector", p.provider)
		}
	}
}

func TestForAccountUnknownProvider(t *testing.T) {
	_, err := ForAccount(&model.ChannelAccount{Provider: "telex"}, Deps{})
	if err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}
