package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/smsq/internal/remote"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// DefaultQueue is the queue batches are published to.
const DefaultQueue = "sms_batches"

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// amqpSession is one live connection and channel. closed fires when either
// is closed by the broker or by a network failure.
type amqpSession struct {
	conn   *amqp.Connection
	ch     amqpChannel
	closed []chan *amqp.Error
}

func (s *amqpSession) alive() bool {
	for _, c := range s.closed {
		select {
		case <-c:
			return false
		default:
		}
	}
	return true
}

func (s *amqpSession) close() {
	_ = s.ch.Close()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

type dialFunc func(url, queue string) (*amqpSession, error)

// AMQPPublisher hands batches to a message broker instead of calling the
// send endpoint directly. A worker on the other side performs delivery.
// A lost connection is redialed by Ready.
type AMQPPublisher struct {
	url    string
	queue  string
	dial   dialFunc
	logger *zap.Logger

	mu   sync.Mutex
	sess *amqpSession
}

// NewAMQPPublisher connects to the broker and declares a durable queue.
func NewAMQPPublisher(url, queue string, logger *zap.Logger) (*AMQPPublisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &AMQPPublisher{url: url, queue: queue, dial: dialAMQP, logger: logger}
	sess, err := p.dial(url, queue)
	if err != nil {
		return nil, err
	}
	p.sess = sess
	return p, nil
}

func dialAMQP(url, queue string) (*amqpSession, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &amqpSession{
		conn: conn,
		ch:   ch,
		closed: []chan *amqp.Error{
			conn.NotifyClose(make(chan *amqp.Error, 1)),
			ch.NotifyClose(make(chan *amqp.Error, 1)),
		},
	}, nil
}

// Ready redials the broker when the previous connection was closed. An
// unreachable broker is reported as remote.ErrOffline.
func (p *AMQPPublisher) Ready(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != nil && p.sess.alive() {
		return nil
	}
	if p.sess != nil {
		p.sess.close()
		p.sess = nil
	}
	sess, err := p.dial(p.url, p.queue)
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrOffline, err)
	}
	p.logger.Info("reconnected to broker", zap.String("queue", p.queue))
	p.sess = sess
	return nil
}

// SendBatch publishes the batch as a persistent JSON message.
func (p *AMQPPublisher) SendBatch(_ context.Context, b remote.Batch) error {
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return fmt.Errorf("%w: broker connection is not open", remote.ErrOffline)
	}
	err = p.sess.ch.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    b.ID,
		Body:         body,
	})
	if errors.Is(err, amqp.ErrClosed) {
		p.sess.close()
		p.sess = nil
		return fmt.Errorf("%w: %v", remote.ErrOffline, err)
	}
	if err != nil {
		return fmt.Errorf("publish batch %s: %w", b.ID, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil
	}
	err := p.sess.ch.Close()
	if p.sess.conn != nil {
		err = p.sess.conn.Close()
	}
	p.sess = nil
	return err
}
