package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/pkg/kafka"
	"github.com/utafrali/identity/pkg/logger"
)

const (
	TopicUserRegistered = "identity.user.registered"
	TopicUserUpdated    = "identity.user.updated"
	TopicUserDeleted    = "identity.user.deleted"

	aggregateType = "user"
	source        = "identity-service"

	publishTimeout = 5 * time.Second
)

// UserPayload is the event body shared by registration and update events. It
// carries the external projection only, never credentials or tokens.
type UserPayload struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Verified  bool   `json:"verified"`
	Role      string `json:"role"`
}

// DeletedPayload is the event body for user deletions.
type DeletedPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Publisher emits user lifecycle events. Publishing is best effort: failures
// are logged and never surfaced to the caller, since the state change has
// already been committed.
type Publisher struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewPublisher creates a publisher over the given producer. A nil producer
// disables publishing, which keeps local runs free of a broker dependency.
func NewPublisher(producer *kafka.Producer, log *slog.Logger) *Publisher {
	return &Publisher{producer: producer, logger: log}
}

// UserRegistered publishes an identity.user.registered event.
func (p *Publisher) UserRegistered(ctx context.Context, u *domain.User) {
	p.publish(ctx, TopicUserRegistered, "user.registered", u.ID, userPayload(u))
}

// UserUpdated publishes an identity.user.updated event.
func (p *Publisher) UserUpdated(ctx context.Context, u *domain.User) {
	p.publish(ctx, TopicUserUpdated, "user.updated", u.ID, userPayload(u))
}

// UserDeleted publishes an identity.user.deleted event.
func (p *Publisher) UserDeleted(ctx context.Context, u *domain.User) {
	p.publish(ctx, TopicUserDeleted, "user.deleted", u.ID, DeletedPayload{
		UserID: u.ID,
		Role:   u.Role.String(),
	})
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, aggregateID string, payload any) {
	if p.producer == nil {
		return
	}

	evt, err := kafka.NewEvent(eventType, aggregateType, aggregateID, source, payload)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	evt.CorrelationID = logger.CorrelationIDFromContext(ctx)

	// Detach from the request context so a cancelled request does not drop
	// the event.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.producer.Publish(pubCtx, topic, evt); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish user event",
			slog.String("topic", topic),
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
	}
}

func userPayload(u *domain.User) UserPayload {
	return UserPayload{
		UserID:    u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Verified:  u.Verified,
		Role:      u.Role.String(),
	}
}
