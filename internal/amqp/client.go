package amqp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"cashflowsim/internal/log"
	"cashflowsim/internal/simulation"
)

// Circuit breaker states for the publish path.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures = 5
	openTimeout = 30 * time.Second
)

type Client struct {
	url          string
	exchangeName string
	jobQueue     string
	resultQueue  string
	logger       *log.Logger

	// mu guards conn and channel, which Reconnect swaps while
	// publishers may be using them.
	mu      sync.RWMutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount    int64
	state           int32
	lastFailureNano int64
}

// NewClient connects to the broker and declares the exchange plus the job
// and result queues.
func NewClient(url, exchangeName, jobQueue, resultQueue string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		url:          url,
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		jobQueue:     jobQueue,
		resultQueue:  resultQueue,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}

	if err := client.setup(channel); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	return client, nil
}

func (c *Client) setup(channel *amqp091.Channel) error {
	// Declare exchange
	err := channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range []string{c.jobQueue, c.resultQueue} {
		_, err = channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// Routing key is the queue name for a direct exchange.
		err = channel.QueueBind(queue, queue, c.exchangeName, false, nil)
		if err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

// currentChannel snapshots the channel so a concurrent Reconnect cannot
// swap it mid-operation.
func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

type jsonMessage interface {
	ToJSON() ([]byte, error)
}

// PublishSimulationJob enqueues a simulation request for the worker.
func (c *Client) PublishSimulationJob(ctx context.Context, msg *SimulationJobMessage) error {
	return c.publish(ctx, c.jobQueue, msg, "id", msg.ID)
}

// EnqueueSimulation wraps a request in a job message and publishes it,
// returning the job ID (the request fingerprint).
func (c *Client) EnqueueSimulation(ctx context.Context, req simulation.Request) (string, error) {
	msg := NewSimulationJobMessage(req)
	if err := c.PublishSimulationJob(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// PublishSimulationResult publishes a completed (or failed) simulation.
func (c *Client) PublishSimulationResult(ctx context.Context, msg *SimulationResultMessage) error {
	return c.publish(ctx, c.resultQueue, msg, "id", msg.ID)
}

func (c *Client) publish(ctx context.Context, routingKey string, msg jsonMessage, logArgs ...any) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, refusing to publish to %s", routingKey)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.currentChannel().PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent, // make message persistent
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	args := append([]any{
		log.FieldOperation, log.OpPublish,
		log.FieldExchange, c.exchangeName,
		"routing_key", routingKey,
	}, logArgs...)
	c.logger.InfoContext(ctx, "Published message", args...)

	return nil
}

// ConsumeSimulationJobs delivers job messages to handler with manual ack.
// A handler error nacks the delivery back onto the queue; a malformed
// message is dropped.
func (c *Client) ConsumeSimulationJobs(ctx context.Context, handler func(*SimulationJobMessage) error) error {
	msgs, err := c.currentChannel().Consume(
		c.jobQueue, // queue
		"",         // consumer
		false,      // auto-ack (we want manual ack)
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming simulation jobs",
		log.FieldOperation, log.OpConsume,
		log.FieldQueue, c.jobQueue)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping job consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			msg, err := SimulationJobMessageFromJSON(delivery.Body)
			if err != nil {
				c.logger.ErrorContext(ctx, "Failed to unmarshal job", "error", err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			c.logger.InfoContext(ctx, "Processing simulation job",
				"id", msg.ID,
				"events", len(msg.Request.Events))

			if err := handler(msg); err != nil {
				c.logger.ErrorContext(ctx, "Failed to handle job",
					"error", err,
					"id", msg.ID)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false) // acknowledge successful processing
			c.logger.InfoContext(ctx, "Processed simulation job", "id", msg.ID)
		}
	}
}

// ConsumeSimulationJobsWithReconnect runs the consume loop and, when it
// dies with a connection-level error (broker restart, closed delivery
// channel), re-dials the broker and resumes. Any other error stops the
// loop and is returned.
func (c *Client) ConsumeSimulationJobsWithReconnect(ctx context.Context, handler func(*SimulationJobMessage) error) error {
	for {
		err := c.ConsumeSimulationJobs(ctx, handler)
		if ctx.Err() != nil {
			return err
		}
		if !isConnectionError(err) {
			return err
		}

		c.logger.WarnContext(ctx, "Consume loop lost the broker, reconnecting", "error", err)
		if err := c.Reconnect(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) isCircuitOpen() bool {
	state := atomic.LoadInt32(&c.state)
	if state == StateOpen {
		lastFailure := time.Unix(0, atomic.LoadInt64(&c.lastFailureNano))
		if time.Since(lastFailure) > openTimeout {
			atomic.StoreInt32(&c.state, StateHalfOpen)
			return false
		}
		return true
	}
	return false
}

func (c *Client) recordFailure() {
	count := atomic.AddInt64(&c.failureCount, 1)
	atomic.StoreInt64(&c.lastFailureNano, time.Now().UnixNano())
	if count >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func exponentialBackoff(attempt int) time.Duration {
	backoff := time.Second << uint(attempt)
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"connection refused",
		"connection closed",
		"channel closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Reconnect re-dials the broker with exponential backoff and swaps the
// connection in under the lock, so concurrent publishers never see a
// half-replaced client.
func (c *Client) Reconnect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(exponentialBackoff(attempt)):
		}

		conn, err := amqp091.Dial(c.url)
		if err != nil {
			c.logger.WarnContext(ctx, "Reconnect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		channel, err := conn.Channel()
		if err != nil {
			conn.Close()
			c.logger.WarnContext(ctx, "Reconnect channel open failed", "attempt", attempt+1, "error", err)
			continue
		}

		if err := c.setup(channel); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("setup after reconnect: %w", err)
		}

		c.mu.Lock()
		old := c.conn
		c.conn = conn
		c.channel = channel
		c.mu.Unlock()
		if old != nil {
			old.Close()
		}

		c.recordSuccess()
		c.logger.InfoContext(ctx, "Reconnected to AMQP broker", "attempts", attempt+1)
		return nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
