package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ActionMessageEdited  = "message.edited"
	ActionMessageDeleted = "message.deleted"
)

// Event records a moderator acting on another user's message.
type Event struct {
	Action    string    `json:"action"`
	ActorId   int       `json:"actor_id"`
	ActorName string    `json:"actor_name"`
	ActorRole string    `json:"actor_role"`
	AuthorId  int       `json:"author_id"`
	MessageId int       `json:"message_id"`
	RoomId    int       `json:"room_id"`
	At        time.Time `json:"at"`
}

// Publisher ships audit events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NewPublisher connects to the broker at amqpURL and declares exchange.
// Without a URL, or when the broker is unreachable, events are only logged.
func NewPublisher(logger *log.Logger, amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		return NewLogPublisher(logger, "no amqp url configured")
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return NewLogPublisher(logger, err.Error())
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return NewLogPublisher(logger, err.Error())
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return NewLogPublisher(logger, err.Error())
	}

	logger.Printf("publishing audit events to exchange %q", exchange)
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, log: logger}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *log.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, ev.Action, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Action, err)
	}

	return nil
}

func (p *amqpPublisher) Close() error {
	p.ch.Close()
	return p.conn.Close()
}

// LogPublisher writes audit events to the application log.
type LogPublisher struct {
	log *log.Logger
}

func NewLogPublisher(logger *log.Logger, reason string) *LogPublisher {
	logger.Printf("audit events are logged only: %s", reason)
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Printf("audit: %s by %q (%s) on message %d in room %d",
		ev.Action, ev.ActorName, ev.ActorRole, ev.MessageId, ev.RoomId)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}

// Mode names the kind of publisher, for start-up logging.
func Mode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case *LogPublisher:
		return "log"
	default:
		return "unknown"
	}
}
