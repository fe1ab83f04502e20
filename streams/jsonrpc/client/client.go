package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/defistate/lpfund-go/fund"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace under which the fund API is registered.
	RpcNamespace             = "fund"
	EventsSubscriptionMethod = "events"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the client.
type Config struct {
	URL string
	// Fund is the address of the fund to follow.
	Fund       common.Address
	Logger     Logger
	BufferSize uint
	// From, when set, asks the server to replay journaled events with Seq >= *From on the
	// first subscription. Later subscriptions always resume after the last event seen.
	From *uint64
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.Fund == (common.Address{}) {
		return errors.New("config: Fund is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// StreamProcessor
// -----------------------------------------------------------------------------

// StreamProcessor decodes fund events, drops anything already seen and flags sequence
// gaps. It is decoupled from the networking layer.
type StreamProcessor struct {
	fund    common.Address
	lastSeq atomic.Uint64
	eventCh chan fund.Event
	logger  Logger
}

// NewStreamProcessor creates a pure logic processor without networking.
func NewStreamProcessor(logger Logger, bufferSize uint, fundAddr common.Address) *StreamProcessor {
	return &StreamProcessor{
		fund:    fundAddr,
		logger:  logger,
		eventCh: make(chan fund.Event, bufferSize),
	}
}

// Events returns a read-only channel of accepted events in sequence order.
func (sp *StreamProcessor) Events() <-chan fund.Event {
	return sp.eventCh
}

// LastSeq returns the sequence number of the last accepted event, 0 if none.
func (sp *StreamProcessor) LastSeq() uint64 {
	return sp.lastSeq.Load()
}

// ProcessMessage accepts a raw JSON message, validates it against the stream so far and
// forwards it.
func (sp *StreamProcessor) ProcessMessage(rawData json.RawMessage) error {
	processingStart := time.Now()
	var event SubscriptionEvent

	if err := json.Unmarshal(rawData, &event); err != nil {
		return fmt.Errorf("failed to unmarshal subscription event: %w", err)
	}

	switch event.Type {
	case EventTypeReplay, EventTypeLive:
		return sp.handleEvent(event, processingStart)
	default:
		return fmt.Errorf("received unknown event type: %s", event.Type)
	}
}

func (sp *StreamProcessor) handleEvent(event SubscriptionEvent, start time.Time) error {
	var e fund.Event
	if err := json.Unmarshal(event.Payload, &e); err != nil {
		return fmt.Errorf("failed to unmarshal event payload: %w", err)
	}
	if e.Fund != sp.fund {
		return fmt.Errorf("received event of fund %s on stream of %s", e.Fund.Hex(), sp.fund.Hex())
	}

	last := sp.lastSeq.Load()
	if e.Seq <= last {
		sp.logger.Debug("Dropping duplicate event", "seq", e.Seq, "last_seq", last)
		return nil
	}
	if last != 0 && e.Seq != last+1 {
		sp.logger.Warn(
			"Gap in event sequence; events were missed.",
			"last_seq", last,
			"seq", e.Seq,
			"missing", e.Seq-last-1,
		)
	}

	sp.logLatency(&e, time.Since(start), event.SentAt, event.Type)
	sp.lastSeq.Store(e.Seq)
	sp.eventCh <- e
	return nil
}

func (sp *StreamProcessor) logLatency(e *fund.Event, processingDur time.Duration, sentAt int64, eventType string) {
	transportTime := time.Now().Add(-processingDur).Sub(time.Unix(0, sentAt))
	sp.logger.Debug("Event Processed",
		"seq", e.Seq,
		"kind", e.Kind,
		"type", eventType,
		"latency_transport_ms", transportTime.Milliseconds(),
		"latency_proc_ms", processingDur.Milliseconds(),
	)
}

// -----------------------------------------------------------------------------
// Client (Networking Wrapper)
// -----------------------------------------------------------------------------

// Client manages the connection and uses StreamProcessor for logic.
type Client struct {
	processor *StreamProcessor
	fund      common.Address
	from      *uint64
	errCh     chan error
	logger    Logger
}

// NewClient creates a new client with networking enabled.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		processor: NewStreamProcessor(cfg.Logger, cfg.BufferSize, cfg.Fund),
		fund:      cfg.Fund,
		from:      cfg.From,
		errCh:     make(chan error, 1),
		logger:    cfg.Logger,
	}

	go client.run(ctx, cfg.URL)
	return client, nil
}

// Events delegates to the processor's event channel.
func (c *Client) Events() <-chan fund.Event {
	return c.processor.Events()
}

// LastSeq is the sequence number of the last event delivered.
func (c *Client) LastSeq() uint64 {
	return c.processor.LastSeq()
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the networking lifecycle and feeds data to the processor.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.errCh)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to RPC server", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context canceled, shutting down.")
				return
			}
			c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

// resumeFrom returns the replay start for the next subscription, nil for live only.
func (c *Client) resumeFrom() *hexutil.Uint64 {
	if last := c.processor.LastSeq(); last > 0 {
		from := hexutil.Uint64(last + 1)
		return &from
	}
	if c.from != nil {
		from := hexutil.Uint64(*c.from)
		return &from
	}
	return nil
}

func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	args := []any{c.fund}
	if from := c.resumeFrom(); from != nil {
		args = append(args, from)
	}
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, append([]any{EventsSubscriptionMethod}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for events...", "fund", c.fund.Hex(), "last_seq", c.processor.LastSeq())
	for {
		select {
		case rawData := <-rawCh:
			// Delegate logic to the processor
			if err := c.processor.ProcessMessage(rawData); err != nil {
				c.logger.Error("Error processing message", "error", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
