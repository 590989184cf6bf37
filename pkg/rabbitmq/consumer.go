package rabbitmq

import (
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery body. Returning false re-queues the delivery.
type Handler func(body []byte) bool

// Consumer binds a durable queue to a topic exchange and dispatches deliveries by routing key.
type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	prefetch int
	done     chan struct{}
	logger   *slog.Logger
}

// NewConsumer dials RabbitMQ and opens a channel limited to prefetch unacknowledged deliveries.
func NewConsumer(amqpURL string, prefetch int, logger *slog.Logger) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if prefetch <= 0 {
		prefetch = 16
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, prefetch: prefetch, done: make(chan struct{}), logger: logger}, nil
}

// ConsumeWithBindings declares queueName, binds it to every routing key and starts dispatching.
// Deliveries with no matching handler are acknowledged and dropped.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	handlers := make(map[string]Handler, len(bindings))
	for key, handler := range bindings {
		if handler != nil {
			handlers[key] = handler
		}
	}
	if len(handlers) == 0 {
		return errors.New("no bindings provided")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for key := range handlers {
		if err := c.ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return err
		}
	}

	deliveries, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.logger.Info("consumer started", "component", "rabbitmq_consumer", "queue", q.Name, "bindings", len(handlers), "prefetch", c.prefetch)

	go c.dispatch(q.Name, deliveries, handlers)
	return nil
}

func (c *Consumer) dispatch(queue string, deliveries <-chan amqp.Delivery, handlers map[string]Handler) {
	defer close(c.done)
	for d := range deliveries {
		handler, ok := handlers[d.RoutingKey]
		switch {
		case !ok:
			c.logger.Warn("no handler for routing key; dropping", "component", "rabbitmq_consumer", "routing_key", d.RoutingKey)
			_ = d.Ack(false)
		case handler(d.Body):
			_ = d.Ack(false)
		default:
			c.logger.Warn("handler failed; re-queuing", "component", "rabbitmq_consumer", "routing_key", d.RoutingKey, "redelivered", d.Redelivered)
			_ = d.Nack(false, true)
		}
	}
	c.logger.Info("delivery channel closed", "component", "rabbitmq_consumer", "queue", queue)
}

// Done is closed once the dispatch loop exits.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Close closes the channel and connection, which ends the dispatch loop.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
