// Package grouprelay broadcasts TASK_AVAILABLE envelopes across
// independently-running swarmd supervisors over Kafka, generalized from
// the teacher's internal/group Kafka consumer: one reader goroutine per
// relay handing each message straight to the registered sink, plus a
// writer for publishing.
package grouprelay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Config configures a Relay.
type Config struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// TaskSink receives the raw envelope content of every TASK_AVAILABLE
// broadcast read from the relay topic.
type TaskSink func(content string)

// reader is the subset of *kafka.Reader the relay depends on, so tests
// can substitute a fake the way the teacher's group package swaps in a
// ChannelConsumer for its KafkaConsumer.
type reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// writer is the subset of *kafka.Writer the relay depends on.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Relay bridges a supervisor's outbound TASK_AVAILABLE broadcasts and
// inbound broadcasts from peer supervisors sharing the same topic.
type Relay struct {
	cfg    Config
	logger *slog.Logger

	writer writer
	reader reader

	mu     sync.Mutex
	sink   TaskSink
	cancel context.CancelFunc
}

// New builds a Relay. It does not connect to Kafka until Start is called.
func New(cfg Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{cfg: cfg, logger: logger}
}

// newWithClients builds a Relay around an already-constructed reader and
// writer, bypassing Kafka connection setup. Used by tests.
func newWithClients(logger *slog.Logger, r reader, w writer) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{logger: logger, reader: r, writer: w}
}

// run starts the read loop against an already-attached reader/writer,
// the part of Start that doesn't depend on dialing Kafka.
func (r *Relay) run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.readLoop(runCtx)
}

// OnTask registers the sink invoked for every message read from the
// relay topic. Must be called before Start.
func (r *Relay) OnTask(sink TaskSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// Start opens the Kafka reader and writer and begins consuming. Close
// stops the read loop.
func (r *Relay) Start(ctx context.Context) error {
	if len(r.cfg.Brokers) == 0 || r.cfg.Topic == "" {
		return fmt.Errorf("grouprelay: brokers and topic are required")
	}
	r.writer = &kafka.Writer{
		Addr:     kafka.TCP(r.cfg.Brokers...),
		Topic:    r.cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	r.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  r.cfg.Brokers,
		Topic:    r.cfg.Topic,
		GroupID:  r.cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	r.run(ctx)
	return nil
}

func (r *Relay) readLoop(ctx context.Context) {
	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("grouprelay read error", "event", "grouprelay_read_error", "error", err)
			continue
		}
		r.mu.Lock()
		sink := r.sink
		r.mu.Unlock()
		if sink != nil {
			sink(string(msg.Value))
		}
	}
}

// Publish writes an envelope's marshaled content to the relay topic so
// peer supervisors' relays pick it up.
func (r *Relay) Publish(ctx context.Context, content string) error {
	if r.writer == nil {
		return fmt.Errorf("grouprelay: not started")
	}
	if err := r.writer.WriteMessages(ctx, kafka.Message{Value: []byte(content)}); err != nil {
		return fmt.Errorf("grouprelay: publish: %w", err)
	}
	return nil
}

// Close stops the read loop and closes both the reader and writer.
func (r *Relay) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	var firstErr error
	if r.reader != nil {
		if err := r.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.writer != nil {
		if err := r.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
