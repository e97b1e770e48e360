package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher holds a dedicated publishing connection and its channel.
type AMQPPublisher struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

// NewAMQPPublisher dials the broker and opens a channel for publishing.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	return &AMQPPublisher{Conn: conn, Channel: ch}, nil
}

// Close closes the channel, then the connection.
func (p *AMQPPublisher) Close() error {
	if err := p.Channel.Close(); err != nil {
		p.Conn.Close()
		return err
	}
	return p.Conn.Close()
}
