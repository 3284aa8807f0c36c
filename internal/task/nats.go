package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/jbweber/yolocloud/internal/deadline"
)

const (
	// DefaultStream is the JetStream stream tasks are published to.
	DefaultStream = "YOLOCLOUD_TASKS"
	// DefaultSubjectPrefix prefixes task subjects: yolocloud.tasks.<name>.
	DefaultSubjectPrefix = "yolocloud.tasks"
	// DefaultQueueGroup is the durable queue group workers share.
	DefaultQueueGroup = "yolocloud-workers"
	// DefaultPublishTimeout bounds waiting for the JetStream publish ack.
	DefaultPublishTimeout = 5 * time.Second
	// DefaultAckWait is how long JetStream waits for an ack or progress
	// report before redelivering a task message.
	DefaultAckWait = 30 * time.Second
	// DefaultDrainTimeout bounds waiting for a draining subscription.
	DefaultDrainTimeout = 10 * time.Second
)

// jsPublisher defines the JetStream operations NATSQueue needs.
//
// In production, this is satisfied by nats.JetStreamContext.
// In tests, this is satisfied by mock implementations.
type jsPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// jsStreams defines the stream management operations EnsureStream needs.
type jsStreams interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// jsSubscriber defines the JetStream operations Consumer needs.
type jsSubscriber interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// acker is the acknowledgement side of a JetStream message.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	InProgress(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// Connect dials the NATS server at url with reconnects enabled.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name("yolocloud"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// EnsureStream creates the task stream if it does not exist. The stream uses
// work-queue retention: a message is removed once a worker acks it.
func EnsureStream(js jsStreams, stream, subjectPrefix string) error {
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", stream, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{subjectPrefix + ".>"},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", stream, err)
	}
	return nil
}

// NATSQueue publishes tasks to JetStream.
type NATSQueue struct {
	js            jsPublisher
	subjectPrefix string
	timeout       time.Duration
}

// NewNATSQueue creates a NATSQueue publishing under subjectPrefix.
func NewNATSQueue(js jsPublisher, subjectPrefix string, timeout time.Duration) *NATSQueue {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &NATSQueue{js: js, subjectPrefix: subjectPrefix, timeout: timeout}
}

// Enqueue implements Queue. It returns once JetStream has stored the task.
func (q *NATSQueue) Enqueue(ctx context.Context, name Name, vmID uuid.UUID, args map[string]string) error {
	resolved, err := ParseName(string(name))
	if err != nil {
		return err
	}

	data, err := json.Marshal(Task{Name: resolved, VMID: vmID, Args: args})
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	subject := q.subjectPrefix + "." + string(resolved)
	if _, err := q.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("publish %s: %w after %v", subject, deadline.ErrTimeout, q.timeout)
		}
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Consumer pulls tasks from JetStream and runs them on a Runner.
//
// A message is acked once its task has run to completion, whatever the
// outcome. A task that never ran or was aborted by the Runner is naked for
// redelivery. While a task waits in the pool or runs, the message is
// reported in progress so JetStream does not redeliver it meanwhile.
type Consumer struct {
	js            jsSubscriber
	runner        *Runner
	logger        *zap.Logger
	subjectPrefix string
	queueGroup    string
	ackWait       time.Duration

	sub      *nats.Subscription
	inflight sync.WaitGroup
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithAckWait sets the ack wait of the subscription. Progress is reported
// at a third of it.
func WithAckWait(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.ackWait = d
		}
	}
}

// NewConsumer creates a Consumer.
func NewConsumer(js jsSubscriber, runner *Runner, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Consumer{
		js:            js,
		runner:        runner,
		logger:        logger,
		subjectPrefix: DefaultSubjectPrefix,
		queueGroup:    DefaultQueueGroup,
		ackWait:       DefaultAckWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// subscribeOptions returns the JetStream options Start subscribes with.
func (c *Consumer) subscribeOptions() []nats.SubOpt {
	return []nats.SubOpt{
		nats.ManualAck(),
		nats.Durable(c.queueGroup),
		nats.DeliverAll(),
		nats.AckWait(c.ackWait),
	}
}

// Start subscribes to every task subject.
func (c *Consumer) Start() error {
	sub, err := c.js.QueueSubscribe(c.subjectPrefix+".>", c.queueGroup, func(msg *nats.Msg) {
		c.handle(msg.Data, msg)
	}, c.subscribeOptions()...)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s.>: %w", c.subjectPrefix, err)
	}
	c.sub = sub
	return nil
}

// Stop drains the subscription and waits, up to DefaultDrainTimeout, for
// the drain to finish so no further messages are handed to the Runner.
// Tasks already submitted keep running: stop the Runner, then call Wait.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	if err := c.sub.Drain(); err != nil {
		return err
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(DefaultDrainTimeout)
	for c.sub.IsValid() {
		select {
		case <-ticker.C:
		case <-timeout:
			return fmt.Errorf("subscription %s.> still draining after %s", c.subjectPrefix, DefaultDrainTimeout)
		}
	}
	return nil
}

// Wait blocks until every handled message has been acked or naked.
func (c *Consumer) Wait() {
	c.inflight.Wait()
}

// handle decodes one message and submits it. Undecodable messages are
// terminated so they are not redelivered.
func (c *Consumer) handle(data []byte, msg acker) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		c.logger.Error("dropping undecodable task message", zap.Error(err))
		if err := msg.Term(); err != nil {
			c.logger.Warn("failed to terminate message", zap.Error(err))
		}
		return
	}

	fields := []zap.Field{zap.String("task", string(t.Name)), zap.String("vm_id", t.VMID.String())}

	handle, err := c.runner.Submit(t)
	if err != nil {
		c.logger.Warn("runner stopped, returning task for redelivery", fields...)
		c.nak(msg, fields)
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		heartbeat := time.NewTicker(max(c.ackWait/3, time.Millisecond))
		defer heartbeat.Stop()
		for waiting := true; waiting; {
			select {
			case <-handle.Done():
				waiting = false
			case <-heartbeat.C:
				if err := msg.InProgress(); err != nil {
					c.logger.Warn("failed to report task progress", append(fields, zap.Error(err))...)
				}
			}
		}

		if err := handle.Wait(); err != nil {
			c.logger.Warn("task did not complete, returning it for redelivery", append(fields, zap.Error(err))...)
			c.nak(msg, fields)
			return
		}
		if err := msg.Ack(); err != nil {
			c.logger.Warn("failed to ack task message", append(fields, zap.Error(err))...)
		}
	}()
}

func (c *Consumer) nak(msg acker, fields []zap.Field) {
	if err := msg.Nak(); err != nil {
		c.logger.Warn("failed to nak task message", append(fields, zap.Error(err))...)
	}
}
