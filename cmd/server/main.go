// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inboxd/omnichannel-backend/internal/config"
	"github.com/inboxd/omnichannel-backend/internal/connector"
	"github.com/inboxd/omnichannel-backend/internal/controller"
	"github.com/inboxd/omnichannel-backend/internal/db"
	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/queue"
	"github.com/inboxd/omnichannel-backend/internal/repository"
	"github.com/inboxd/omnichannel-backend/internal/service"
	"github.com/inboxd/omnichannel-backend/internal/token"
)

type repos struct {
	accounts      repository.ChannelAccountRepositoryInterface
	conversations repository.ConversationRepositoryInterface
	messages      repository.MessageRepositoryInterface
	leads         repository.LeadRepositoryInterface
	rules         repository.AutomationRepositoryInterface
	credentials   repository.CredentialRepositoryInterface
}

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}
	cfg := config.Load()

	var store repos
	if cfg.Store == "memory" {
		log.Println("⚠️ Using in-memory store, data will not survive restarts")
		store = repos{
			accounts:      repository.NewMemoryChannelAccountRepository(),
			conversations: repository.NewMemoryConversationRepository(),
			messages:      repository.NewMemoryMessageRepository(),
			leads:         repository.NewMemoryLeadRepository(),
			rules:         repository.NewMemoryAutomationRepository(),
			credentials:   repository.NewMemoryCredentialRepository(),
		}
	} else {
		db.Init()
		store = repos{
			accounts:      &repository.ChannelAccountRepository{DB: db.DB},
			conversations: &repository.ConversationRepository{DB: db.DB},
			messages:      &repository.MessageRepository{DB: db.DB},
			leads:         &repository.LeadRepository{DB: db.DB},
			rules:         &repository.AutomationRepository{DB: db.DB},
			credentials:   &repository.CredentialRepository{DB: db.DB},
		}
	}

	if cfg.SeedFile != "" {
		if err := applySeed(cfg.SeedFile, store); err != nil {
			log.Fatal("failed to apply seed: ", err)
		}
	}

	var q queue.Queue
	if cfg.QueueURL != "" {
		aq, err := queue.NewAMQPQueue(cfg.QueueURL)
		if err != nil {
			log.Fatal("failed to connect to AMQP: ", err)
		}
		defer aq.Close()
		q = aq
		log.Println("✅ Connected to AMQP broker")
	} else {
		q = queue.NewInMemoryQueue()
	}

	tokens := token.NewManager(store.credentials)
	deps := connector.Deps{Tokens: tokens, Limiters: connector.NewLimiterPool()}
	connectors := func(account *model.ChannelAccount) (connector.Connector, error) {
		return connector.ForAccount(account, deps)
	}

	outboundService := service.NewOutboundService(store.accounts, store.conversations, store.messages, connectors)
	automationService := service.NewAutomationService(store.rules, store.conversations, store.leads, outboundService)
	ingestService := &service.IngestService{
		AccountRepo:      store.accounts,
		ConversationRepo: store.conversations,
		MessageRepo:      store.messages,
		LeadRepo:         store.leads,
		Connectors:       connectors,
		Automation:       automationService,
	}
	healthService := &service.HealthService{AccountRepo: store.accounts, Connectors: connectors}

	queue.StartInboundEventSubscriber(q, ingestService)

	webhookController := &controller.WebhookController{
		AccountRepo: store.accounts,
		Connectors:  connectors,
		Queue:       q,
	}
	messageController := &controller.MessageController{
		Outbound:         outboundService,
		MessageRepo:      store.messages,
		ConversationRepo: store.conversations,
	}
	conversationController := &controller.ConversationController{
		ConversationRepo: store.conversations,
	}
	accountController := &controller.AccountController{
		AccountRepo: store.accounts,
		Health:      healthService,
	}

	r := chi.NewRouter()

	// Webhook routes
	r.Get("/webhooks/meta", webhookController.VerifyMeta)
	r.Post("/webhooks/meta", webhookController.ReceiveMeta)
	r.Post("/webhooks/sms/{provider}", webhookController.ReceiveSMS)
	r.Get("/webhooks/email", webhookController.ReceiveEmail)
	r.Post("/webhooks/email", webhookController.ReceiveEmail)

	// Conversation routes
	r.Get("/conversations/{id}", conversationController.GetConversation)
	r.Patch("/conversations/{id}/status", conversationController.UpdateStatus)
	r.Get("/conversations/{id}/messages", messageController.ListMessages)
	r.Post("/conversations/{id}/messages", messageController.SendMessage)

	// Account routes
	r.Get("/accounts", accountController.ListAccounts)
	r.Get("/accounts/{id}/conversations", conversationController.ListConversations)
	r.Get("/accounts/{id}/health", accountController.CheckHealth)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	log.Println("🚀 Server running on", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, r))
}

func applySeed(path string, store repos) error {
	seed, err := config.LoadSeed(path)
	if err != nil {
		return err
	}
	for i := range seed.Credentials {
		sc := seed.Credentials[i]
		if existing, err := store.credentials.Get(sc.ID); err == nil && existing != nil {
			continue
		}
		cred := &model.Credential{
			ID:           sc.ID,
			TenantID:     sc.TenantID,
			Provider:     sc.Provider,
			AuthType:     sc.AuthType,
			APIKey:       sc.APIKey,
			ClientID:     sc.ClientID,
			ClientSecret: sc.ClientSecret,
			OAuthTenant:  sc.OAuthTenant,
			TokenURL:     sc.TokenURL,
			Scope:        sc.Scope,
			RefreshToken: sc.RefreshToken,
		}
		if err := store.credentials.Create(cred); err != nil {
			return err
		}
	}
	for i := range seed.Accounts {
		sa := seed.Accounts[i]
		if existing, err := store.accounts.GetByID(sa.ID); err == nil && existing != nil {
			continue
		}
		account := &model.ChannelAccount{
			ID:            sa.ID,
			TenantID:      sa.TenantID,
			ChannelType:   model.ChannelType(sa.ChannelType),
			Provider:      sa.Provider,
			ExternalID:    sa.ExternalID,
			DisplayName:   sa.DisplayName,
			SenderID:      sa.SenderID,
			EmailAddress:  sa.EmailAddress,
			CredentialID:  sa.CredentialID,
			VerifyToken:   sa.VerifyToken,
			WebhookSecret: sa.WebhookSecret,
			DailyLimit:    sa.DailyLimit,
		}
		if err := store.accounts.Create(account); err != nil {
			return err
		}
	}
	for i := range seed.Rules {
		rule := seed.Rules[i]
		if rule.ID != "" {
			if existing, err := store.rules.GetRule(rule.ID); err == nil && existing != nil {
				continue
			}
		}
		if err := store.rules.CreateRule(&rule); err != nil {
			return err
		}
	}
	log.Printf("✅ Seed applied: %d credentials, %d accounts, %d rules",
		len(seed.Credentials), len(seed.Accounts), len(seed.Rules))
	return nil
}
