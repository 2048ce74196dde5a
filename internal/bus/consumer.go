package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/rs/zerolog/log"
)

// ErrPartitionsIdle is returned by Consumer.Next when no message arrived
// within the idle timeout while the consumer was waiting to receive one.
// Per spec §4.8 this is a normal termination signal, not a failure.
var ErrPartitionsIdle = errors.New("bus: partitions idle")

// Reader is the subset of *kafka.Reader the consumer depends on, so
// tests (and New) can substitute a fake without a live broker.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type reader = Reader

// consumerState is the three-state machine from spec §4.8: the idle
// timeout is armed only on the Idle->Receiving edge, so time spent
// processing a message never counts against it.
type consumerState int

const (
	stateIdle consumerState = iota
	stateReceiving
	stateProcessing
)

// Consumer reads "<mode>:<hash>" messages from one partitioned topic,
// terminating after IdleTimeout has elapsed with nothing new arriving.
type Consumer struct {
	r           reader
	idleTimeout time.Duration
	state       consumerState
}

// NewConsumerGroup dials a kafka.Reader in the given consumer group,
// reading topic from the beginning, as spec §4.8 requires for
// at-least-once delivery with PK-based dedup downstream.
func NewConsumerGroup(brokers []string, topic, groupID string, idleTimeout time.Duration) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, idleTimeout)
}

func newConsumer(r reader, idleTimeout time.Duration) *Consumer {
	return &Consumer{r: r, idleTimeout: idleTimeout, state: stateIdle}
}

// New builds a Consumer directly from a Reader, for callers (and tests)
// that already have one rather than a broker list/topic/group.
func New(r Reader, idleTimeout time.Duration) *Consumer {
	return newConsumer(r, idleTimeout)
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.r.Close()
}

// Next fetches the next message, enforcing the idle timeout only while
// transitioning out of Idle (spec §4.8). Callers that successfully
// receive a message must call Commit once processing finishes; Next
// itself moves the state machine Idle -> Receiving -> Processing on
// success, and back to Idle on ErrPartitionsIdle.
func (c *Consumer) Next(ctx context.Context) (kafka.Message, error) {
	c.state = stateReceiving

	fetchCtx := ctx
	var cancel context.CancelFunc
	if c.idleTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, c.idleTimeout)
		defer cancel()
	}

	msg, err := c.r.FetchMessage(fetchCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.state = stateIdle
			return kafka.Message{}, ErrPartitionsIdle
		}
		return kafka.Message{}, fmt.Errorf("bus: fetch message: %w", err)
	}

	c.state = stateProcessing
	return msg, nil
}

// Commit acknowledges msg as processed and returns the state machine to
// Idle, arming the timeout fresh on the next Next call.
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	defer func() { c.state = stateIdle }()
	if err := c.r.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("bus: commit message: %w", err)
	}
	return nil
}

// Run drives the fetch/handle/commit loop until handle returns an error,
// the context is canceled, or the idle timeout elapses (a clean
// termination, not surfaced as an error to the caller).
func (c *Consumer) Run(ctx context.Context, handle func(context.Context, kafka.Message) error) error {
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrPartitionsIdle) {
				log.Info().Msg("consumer idle timeout elapsed, terminating")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := handle(ctx, msg); err != nil {
			return fmt.Errorf("bus: handle message: %w", err)
		}
		if err := c.Commit(ctx, msg); err != nil {
			return err
		}
	}
}
