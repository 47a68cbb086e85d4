package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"evaliq-attempt-service/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const eventAttemptCompleted = "attempt.completed"

// AttemptCompletedEvent is published once per stored attempt record.
type AttemptCompletedEvent struct {
	Type             string    `json:"type"`
	AttemptID        string    `json:"attemptId"`
	QuizID           string    `json:"quizId"`
	ParticipantName  string    `json:"participantName"`
	Score            int       `json:"score"`
	TotalQuestions   int       `json:"totalQuestions"`
	TimeTakenSeconds int       `json:"timeTakenSeconds"`
	TabSwitchCount   int       `json:"tabSwitchCount"`
	CompletedAt      time.Time `json:"completedAt"`
}

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher pushes attempt events onto a durable queue.
type Publisher struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex
	ch channel
}

// Dial connects to the broker at url and declares queue.
func Dial(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p, err := newPublisher(ch, queue)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, queue string) (*Publisher, error) {
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	return &Publisher{ch: ch, queue: queue}, nil
}

// AttemptCompleted implements app.AttemptNotifier.
func (p *Publisher) AttemptCompleted(ctx context.Context, rec domain.AttemptRecord) error {
	body, err := json.Marshal(AttemptCompletedEvent{
		Type:             eventAttemptCompleted,
		AttemptID:        rec.ID,
		QuizID:           rec.QuizID,
		ParticipantName:  rec.ParticipantName,
		Score:            rec.Score,
		TotalQuestions:   rec.TotalQuestions,
		TimeTakenSeconds: rec.TimeTakenSeconds,
		TabSwitchCount:   rec.TabSwitchCount,
		CompletedAt:      rec.CompletedAt,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(
		ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    rec.ID,
			Type:         eventAttemptCompleted,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
