// cmd/worker/main.go
//
// Standalone ingestion worker: consumes inbound webhook events from
// RabbitMQ so the HTTP gateway and the parsing pipeline can scale apart.
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/inboxd/omnichannel-backend/internal/connector"
	"github.com/inboxd/omnichannel-backend/internal/db"
	"github.com/inboxd/omnichannel-backend/internal/model"
	"github.com/inboxd/omnichannel-backend/internal/queue"
	"github.com/inboxd/omnichannel-backend/internal/repository"
	"github.com/inboxd/omnichannel-backend/internal/service"
	"github.com/inboxd/omnichannel-backend/internal/token"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	amqpURL := os.Getenv("AMQP_URL")
	if amqpURL == "" {
		log.Fatal("AMQP_URL is required for the worker")
	}

	db.Init()

	accountRepo := &repository.ChannelAccountRepository{DB: db.DB}
	conversationRepo := &repository.ConversationRepository{DB: db.DB}
	messageRepo := &repository.MessageRepository{DB: db.DB}
	leadRepo := &repository.LeadRepository{DB: db.DB}
	ruleRepo := &repository.AutomationRepository{DB: db.DB}
	credentialRepo := &repository.CredentialRepository{DB: db.DB}

	tokens := token.NewManager(credentialRepo)
	deps := connector.Deps{Tokens: tokens, Limiters: connector.NewLimiterPool()}
	connectors := func(account *model.ChannelAccount) (connector.Connector, error) {
		return connector.ForAccount(account, deps)
	}

	outboundService := service.NewOutboundService(accountRepo, conversationRepo, messageRepo, connectors)
	automationService := service.NewAutomationService(ruleRepo, conversationRepo, leadRepo, outboundService)
	ingestService := &service.IngestService{
		AccountRepo:      accountRepo,
		ConversationRepo: conversationRepo,
		MessageRepo:      messageRepo,
		LeadRepo:         leadRepo,
		Connectors:       connectors,
		Automation:       automationService,
	}

	q, err := queue.NewAMQPQueue(amqpURL)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ: ", err)
	}
	defer q.Close()

	queue.StartInboundEventSubscriber(q, ingestService)

	log.Println("🚀 Worker running, waiting for inbound events...")
	forever := make(chan bool)
	<-forever
}
