package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"pulsebase-backend/internal/model"
	"pulsebase-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Publisher is the message ingestion pipeline: resolve the channel, admit
// the row under the principal's transaction-scoped context, persist, and
// let the store's commit-time notification trigger the fanout. The
// dispatcher is never invoked from here, so there is exactly one delivery
// trigger per committed row even across process restarts.
type Publisher struct {
	pool     *pgxpool.Pool
	registry *ChannelRegistry
	authz    *AuthContext
	messages *repository.MessageRepository
}

func NewPublisher(pool *pgxpool.Pool, registry *ChannelRegistry, authz *AuthContext, messages *repository.MessageRepository) *Publisher {
	return &Publisher{pool: pool, registry: registry, authz: authz, messages: messages}
}

// Publish returns (nil, nil) both when no enabled channel matches the
// name and when the store's policy rejects the row. The two cases are
// indistinguishable to the caller so probing cannot reveal which channels
// exist or what the policies look like; operators get distinct log lines.
// Infrastructure failures come back as errors.
func (s *Publisher) Publish(ctx context.Context, channelName, eventName string, payload json.RawMessage, p model.Principal) (*model.Message, error) {
	ch, err := s.registry.GetByName(ctx, channelName)
	if err != nil {
		return nil, fmt.Errorf("resolve channel: %w", err)
	}
	if ch == nil {
		log.Printf("[publish] no channel matches %q (event=%s)", channelName, eventName)
		return nil, nil
	}
	if !ch.Enabled {
		log.Printf("[publish] channel %q disabled, rejecting %s", channelName, eventName)
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin publish tx: %w", err)
	}
	// Rollback on every early exit; the transaction-local auth context
	// dies with it, so the pooled connection is returned clean.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.authz.Apply(ctx, tx, p); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:          uuid.NewString(),
		EventName:   eventName,
		ChannelID:   ch.ID,
		ChannelName: channelName,
		Payload:     payload,
		SenderType:  p.SenderType(),
	}
	if p.ID != "" {
		msg.SenderID = &p.ID
	}

	saved, err := s.messages.InsertTx(ctx, tx, msg)
	if err != nil {
		if IsDenied(err) {
			log.Printf("[publish] denied: role=%s sender=%s channel=%s event=%s", p.Role, p.ID, channelName, eventName)
			return nil, nil
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit publish: %w", err)
	}
	return saved, nil
}
