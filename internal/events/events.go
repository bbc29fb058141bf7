// Package events publishes budget alert events to RabbitMQ so that an
// external push service can deliver browser notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"ledgercore/internal/logger"
	"ledgercore/internal/models"
)

// AlertEvent is the message body of a budget alert.
type AlertEvent struct {
	NotificationID string           `json:"notification_id"`
	UserID         string           `json:"user_id"`
	BudgetID       string           `json:"budget_id"`
	AlertType      models.AlertType `json:"alert_type"`
	PeriodKey      string           `json:"period_key"`
	Message        string           `json:"message"`
	CategoryName   string           `json:"category_name"`
	Percent        float64          `json:"percent"`
	Spent          decimal.Decimal  `json:"spent"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       string           `json:"currency"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// RoutingKey is the topic the event is published under, for example
// "budget.alert.over_budget".
func (e AlertEvent) RoutingKey() string {
	return "budget.alert." + string(e.AlertType)
}

// Publisher publishes alert events on a durable topic exchange.
type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string

	// amqp091 channels must not be shared by concurrent publishers.
	mu sync.Mutex
}

// NewPublisher dials url and declares exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Publisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// PublishAlert publishes event as a persistent JSON message.
func (p *Publisher) PublishAlert(ctx context.Context, event AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,         // exchange
		event.RoutingKey(), // routing key
		false,              // mandatory
		false,              // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.NotificationID,
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish alert event: %w", err)
	}

	logger.Get().Debugw("Published alert event",
		"notification_id", event.NotificationID,
		"routing_key", event.RoutingKey(),
		"exchange", p.exchange)
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NopPublisher drops every event. It is used when AMQP is not configured.
type NopPublisher struct{}

// PublishAlert implements the publisher contract and does nothing.
func (NopPublisher) PublishAlert(context.Context, AlertEvent) error { return nil }
