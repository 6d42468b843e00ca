package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// broadcastExchange and stateExchange are the wire-format exchange names
// spec.md §6 fixes: a fanout exchange for broadcast and a topic exchange
// for shared-state updates keyed by card id. Each agent's durable queue is
// named artemis.agent.<name>. Grounded directly on rabbitmq_messenger.py.
const (
	broadcastExchange = "artemis.broadcast"
	stateExchange     = "artemis.state"
)

// Broker is the AMQP-backed Messenger backend for distributed deployments
// (spec.md §4.A, §6), adapted from
// original_source/.agents/agile/rabbitmq_messenger.py onto
// github.com/rabbitmq/amqp091-go.
type Broker struct {
	agentName string
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string
}

// NewBroker dials url and declares the agent's durable queue plus the
// fanout/topic exchanges, binding the queue to the fanout exchange.
func NewBroker(agentName, url string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("messenger: dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("messenger: open channel: %w", err)
	}

	b := &Broker{
		agentName: agentName,
		conn:      conn,
		ch:        ch,
		queueName: fmt.Sprintf("artemis.agent.%s", agentName),
	}

	if _, err := ch.QueueDeclare(b.queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("messenger: declare queue: %w", err)
	}
	if err := ch.ExchangeDeclare(broadcastExchange, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("messenger: declare broadcast exchange: %w", err)
	}
	if err := ch.QueueBind(b.queueName, "", broadcastExchange, false, nil); err != nil {
		return nil, fmt.Errorf("messenger: bind broadcast: %w", err)
	}
	if err := ch.ExchangeDeclare(stateExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("messenger: declare state exchange: %w", err)
	}

	return b, nil
}

// amqpPriority maps spec.md §6's priority -> AMQP header: high->9, medium->5, low->1.
func amqpPriority(p Priority) uint8 {
	switch p {
	case PriorityHigh:
		return 9
	case PriorityLow:
		return 1
	default:
		return 5
	}
}

// Send implements Messenger. Broadcast publishes to the fanout exchange;
// a direct send publishes to the recipient's durable queue.
func (b *Broker) Send(ctx context.Context, toAgent string, msgType Type, data map[string]any, cardID string, priority Priority, metadata map[string]any) (string, error) {
	msg := Message{
		ProtocolVersion: ProtocolVersion,
		MessageID:       NewMessageID(b.agentName, data),
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		FromAgent:       b.agentName,
		ToAgent:         toAgent,
		MessageType:     msgType,
		CardID:          cardID,
		Priority:        priority,
		Data:            data,
		Metadata:        metadata,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("messenger: marshal message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     amqpPriority(priority),
		MessageId:    msg.MessageID,
		Timestamp:    time.Now(),
		Body:         body,
	}

	if toAgent == Broadcast {
		if err := b.ch.PublishWithContext(ctx, broadcastExchange, "", false, false, publishing); err != nil {
			return "", fmt.Errorf("messenger: publish broadcast: %w", err)
		}
		return msg.MessageID, nil
	}

	queue := fmt.Sprintf("artemis.agent.%s", toAgent)
	if _, err := b.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("messenger: declare recipient queue: %w", err)
	}
	if err := b.ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return "", fmt.Errorf("messenger: publish: %w", err)
	}
	return msg.MessageID, nil
}

// Read implements Messenger by draining currently-queued deliveries
// without blocking; consume acknowledges (and removes) matched deliveries,
// deliveries it does not acknowledge are held until the drain ends and
// then nacked with requeue, so they remain for a later Read.
func (b *Broker) Read(_ context.Context, filter ReadFilter, consume bool) ([]Message, error) {
	var matched []Message
	var requeue []amqp.Delivery
	defer func() {
		for _, d := range requeue {
			_ = d.Nack(false, true)
		}
	}()

	for {
		delivery, ok, err := b.ch.Get(b.queueName, false)
		if err != nil {
			return matched, fmt.Errorf("messenger: get delivery: %w", err)
		}
		if !ok {
			break
		}

		var msg Message
		if err := json.Unmarshal(delivery.Body, &msg); err != nil {
			_ = delivery.Nack(false, false)
			continue
		}

		if matches(msg, filter) {
			matched = append(matched, msg)
			if consume {
				_ = delivery.Ack(false)
			} else {
				requeue = append(requeue, delivery)
			}
		} else {
			requeue = append(requeue, delivery)
		}
	}

	return matched, nil
}

// UpdateSharedState publishes to the topic exchange with routing key
// state.<card_id>; consumers subscribe with a routing pattern, so this
// backend does not itself retain shared-state documents (that's the
// Persistence component's job for durable state).
func (b *Broker) UpdateSharedState(ctx context.Context, cardID string, updates map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"card_id":      cardID,
		"updates":      updates,
		"updated_by":   b.agentName,
		"last_updated": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("messenger: marshal shared state: %w", err)
	}
	routingKey := "state." + cardID
	return b.ch.PublishWithContext(ctx, stateExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// GetSharedState is not directly queryable over AMQP's publish/subscribe
// model; callers needing durable shared state should read it from the
// Persistence component instead. Returns an empty document.
func (b *Broker) GetSharedState(_ context.Context, _ string) (map[string]any, error) {
	return map[string]any{}, nil
}

// RegisterAgent is a no-op on the broker backend: presence is implied by
// the existence of the agent's durable queue.
func (b *Broker) RegisterAgent(_ context.Context, _ []string, _ string) error {
	return nil
}

// Heartbeat is a no-op on the broker backend.
func (b *Broker) Heartbeat(_ context.Context) error {
	return nil
}

// Cleanup closes the channel and connection.
func (b *Broker) Cleanup(_ context.Context) error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Type implements Messenger.
func (b *Broker) Type() string { return "broker" }
