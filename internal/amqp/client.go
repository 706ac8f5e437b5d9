// Package amqp carries invalidation messages between processes signed in
// as the same user. Messages go through a direct exchange routed by user.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrNoRoute     = errors.New("no signed-in user to route to")
)

// Config holds the connection settings.
type Config struct {
	URL      string
	Exchange string
	// Origin identifies this process; its own messages are ignored.
	Origin string
	// RoutingKey returns the current user's key, empty when signed out.
	RoutingKey func() string
	Logger     *log.Logger
	Metrics    *metrics.Collector
}

type Client struct {
	url          string
	exchangeName string
	origin       string
	routingKey   func() string
	logger       *log.Logger
	metrics      *metrics.Collector

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	failMu       sync.Mutex
	lastFailure  time.Time
}

// NewClient dials the broker and declares the exchange.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		url:          cfg.URL,
		exchangeName: cfg.Exchange,
		origin:       cfg.Origin,
		routingKey:   cfg.RoutingKey,
		logger:       log.OrDiscard(cfg.Logger).WithComponent(log.ComponentAMQP),
		metrics:      cfg.Metrics,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Origin returns the identifier stamped on published messages.
func (c *Client) Origin() string {
	return c.origin
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	err = channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

// reconnect retries with exponential backoff until ctx ends.
func (c *Client) reconnect(ctx context.Context) error {
	c.closeConn()
	for attempt := 0; ; attempt++ {
		err := c.connect()
		if err == nil {
			c.logger.InfoContext(ctx, "reconnected to broker", "attempt", attempt+1)
			return nil
		}
		wait := exponentialBackoff(attempt)
		c.logger.WarnContext(ctx, "reconnect failed", log.FieldError, err.Error(), "retry_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Announce publishes an invalidation of resource for the signed-in user.
func (c *Client) Announce(ctx context.Context, resource core.Resource) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish invalidation: %w", ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	key := ""
	if c.routingKey != nil {
		key = c.routingKey()
	}
	if key == "" {
		return ErrNoRoute
	}

	body, err := NewInvalidation(resource, c.origin).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = c.publish(ctx, key, body)
	if err != nil && isConnectionError(err) {
		rctx, cancel := context.WithTimeout(ctx, publishTimeout)
		if rerr := c.reconnect(rctx); rerr == nil {
			err = c.publish(ctx, key, body)
		}
		cancel()
	}
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish invalidation: %w", err)
	}
	c.recordSuccess()
	c.metrics.ObserveInvalidation(string(resource), "out")
	c.logger.DebugContext(ctx, "published invalidation", log.FieldResource, string(resource), "exchange", c.exchangeName)
	return nil
}

func (c *Client) publish(ctx context.Context, key string, body []byte) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return amqp091.ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		key,            // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
}

// Handler reacts to an invalidation from another process.
type Handler func(ctx context.Context, msg *Invalidation) error

// Consume binds a private queue to key and feeds foreign invalidations to
// handler until ctx ends.
func (c *Client) Consume(ctx context.Context, key string, handler Handler) error {
	if key == "" {
		return ErrNoRoute
	}
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return amqp091.ErrClosed
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, key, c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "consuming invalidations", "queue", q.Name)
	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "stopping consumption", "reason", ctx.Err())
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			switch c.process(ctx, d.Body, handler) {
			case outcomeAck, outcomeSkip:
				d.Ack(false)
			case outcomeReject:
				// The next write of the resource invalidates it again.
				d.Nack(false, false)
			}
		}
	}
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeSkip
	outcomeReject
)

func (c *Client) process(ctx context.Context, body []byte, handler Handler) outcome {
	msg, err := InvalidationFromJSON(body)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to decode invalidation", log.FieldError, err.Error())
		return outcomeReject
	}
	if msg.Origin == c.origin {
		return outcomeSkip
	}
	c.metrics.ObserveInvalidation(string(msg.Resource), "in")
	if err := handler(ctx, msg); err != nil {
		c.logger.WarnContext(ctx, "failed to handle invalidation",
			log.FieldResource, string(msg.Resource),
			log.FieldError, err.Error())
		return outcomeReject
	}
	return outcomeAck
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.failMu.Lock()
		last := c.lastFailure
		c.failMu.Unlock()
		if time.Since(last) > openTimeout {
			atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.failMu.Lock()
	c.lastFailure = time.Now()
	c.failMu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
