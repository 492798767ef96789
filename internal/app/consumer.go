/**
 * @description
 * Event consumer that turns recorded ledger transactions into experience
 * points. Each transaction.recorded event awards a fixed number of points
 * to the user who made the transaction, which feeds the level progression.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sprp/wallet-service/internal/store"
	"github.com/sprp/wallet-service/pkg/rabbitmq"
)

// xpPerTransaction is the number of points awarded per recorded transaction.
const xpPerTransaction = 10

type ExperienceConsumer struct {
	service *Service
}

func NewExperienceConsumer(service *Service) *ExperienceConsumer {
	return &ExperienceConsumer{service: service}
}

// HandleMessage processes a single transaction.recorded event. Returning true
// acknowledges the message; false re-queues it for another attempt.
func (c *ExperienceConsumer) HandleMessage(body []byte) bool {
	var event rabbitmq.TransactionRecordedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("xp-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if event.UserID == uuid.Nil {
		log.Printf("xp-consumer: missing user id in event %+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := c.service.AwardExperience(ctx, event.UserID, xpPerTransaction); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Printf("xp-consumer: no user found for event %s; acknowledging", event.Transaction)
			return true
		}
		log.Printf("xp-consumer: processing error for transaction %s: %v", event.Transaction, err)
		return false
	}

	return true
}
