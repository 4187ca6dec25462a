// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxd_webhooks_received_total",
		Help: "Webhook deliveries accepted per provider.",
	}, []string{"provider"})

	WebhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxd_webhooks_rejected_total",
		Help: "Webhook deliveries dropped, by provider and reason.",
	}, []string{"provider", "reason"})

	MessagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxd_messages_ingested_total",
		Help: "Inbound messages persisted per channel.",
	}, []string{"channel"})

	MessagesDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxd_messages_deduplicated_total",
		Help: "Inbound messages skipped as duplicates per channel.",
	}, []string{"channel"})

	StatusUpdatesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxd_status_updates_applied_total",
		Help: "Delivery receipts applied per channel.",
	}, []string{"channel"})

	StatusUpdatesIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxd_status_updates_ignored_total",
		Help: "Delivery receipts dropped as unknown or out of order.",
	}, []string{"channel"})

	AutomationExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxd_automation_executions_total",
		Help: "Automation rule firings by final status.",
	}, []string{"status"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxd_messages_sent_total",
		Help: "Outbound send attempts per channel and result.",
	}, []string{"channel", "result"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxd_token_refreshes_total",
		Help: "OAuth token refresh attempts by result.",
	}, []string{"result"})
)
