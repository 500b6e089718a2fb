package pushdelivery

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/callbridge/callbridge/internal/callsession"
)

// Message is the part of a Pub/Sub message the handler needs.
type Message struct {
	ID          string
	Data        []byte
	PublishTime time.Time
	Ack         func()
}

// Handler turns messages into coordinator pushes.
type Handler struct {
	sink   PushSink
	maxAge time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(sink PushSink, maxAge time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{sink: sink, maxAge: maxAge, logger: logger, now: time.Now}
}

// Handle delivers msg to the sink. Every message is acked exactly once,
// whatever the push result, so a failed call never rings twice.
func (h *Handler) Handle(msg Message) {
	logger := h.logger.With().
		Str("message_id", msg.ID).
		Logger()

	if h.maxAge > 0 && !msg.PublishTime.IsZero() {
		if age := h.now().Sub(msg.PublishTime); age > h.maxAge {
			logger.Warn().Dur("age", age).Msg("dropping stale push")
			msg.Ack()
			return
		}
	}

	start := h.now()
	h.sink.HandlePush(msg.Data, callsession.NewCompletion(func(result callsession.PushResult) {
		logger.Info().
			Str("result", string(result)).
			Dur("duration", h.now().Sub(start)).
			Msg("push completed")
		msg.Ack()
	}))
}
