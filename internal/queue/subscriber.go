// internal/queue/subscriber.go
package queue

import (
	"encoding/json"
	"log"
)

// TopicInboundEvents carries raw webhook bodies from the gateway to the
// ingestion pipeline.
const TopicInboundEvents = "inbound_events"

// IngestJob is one webhook delivery, already attributed to an account.
type IngestJob struct {
	AccountID string          `json:"account_id"`
	Body      json.RawMessage `json:"body"`
}

// InboundProcessor is what the subscriber needs from the ingestion side.
type InboundProcessor interface {
	ProcessRaw(accountID string, body []byte) error
}

func StartInboundEventSubscriber(q Queue, processor InboundProcessor) {
	go func() {
		err := q.Subscribe(TopicInboundEvents, func(payload any) error {
			var job IngestJob
			switch p := payload.(type) {
			case IngestJob:
				job = p
			case []byte:
				// AMQP deliveries arrive as JSON bytes.
				if err := json.Unmarshal(p, &job); err != nil {
					log.Println("⚠️ Invalid inbound event payload:", err)
					return nil // unparseable, no retry
				}
			default:
				log.Printf("⚠️ Invalid payload type %T for inbound event", payload)
				return nil
			}

			if job.AccountID == "" {
				log.Println("⚠️ Inbound event missing account ID")
				return nil
			}

			if err := processor.ProcessRaw(job.AccountID, job.Body); err != nil {
				log.Println("⚠️ Failed to process inbound event:", err)
				return err // triggers retry in queue
			}
			return nil
		})

		if err != nil {
			log.Println("⚠️ Failed to start subscriber for inbound_events:", err)
		}
	}()
}
