// Package pushdelivery receives wake pushes from a Pub/Sub subscription and
// hands them to the call coordinator. The message Ack is the push
// completion callback.
package pushdelivery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/callbridge/callbridge/internal/callsession"
)

// PushSink consumes wake pushes.
type PushSink interface {
	HandlePush(payload []byte, completion *callsession.Completion)
}

// Config holds configuration for the Subscriber.
type Config struct {
	ProjectID        string
	SubscriptionName string
	Sink             PushSink

	// MaxAge drops pushes published longer ago than this; a call invite
	// that old has already been missed. Zero disables the check.
	// Default: 0
	MaxAge time.Duration

	Logger zerolog.Logger
}

// Subscriber pulls wake pushes from Pub/Sub.
type Subscriber struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	handler          *Handler
	logger           zerolog.Logger
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(ctx context.Context, cfg Config) (*Subscriber, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// A push must be completed within seconds; keep the window small.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = time.Minute

	return &Subscriber{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		handler:          NewHandler(cfg.Sink, cfg.MaxAge, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start receives messages until ctx is done.
func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info().
		Str("subscription", s.subscriptionName).
		Msg("starting push subscriber")

	return s.subscriber.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		s.handler.Handle(Message{
			ID:          msg.ID,
			Data:        msg.Data,
			PublishTime: msg.PublishTime,
			Ack:         msg.Ack,
		})
	})
}

// Close closes the Pub/Sub client.
func (s *Subscriber) Close() error {
	return s.client.Close()
}
