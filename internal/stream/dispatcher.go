// Package stream ties a live audio session together: it feeds incoming PCM
// chunks through the sliding window buffer, hands triggered windows to the
// retrieval engine, and pushes accepted context injections back to the client.
//
// Each session owns one [Dispatcher] with a single retrieval worker behind a
// one-slot mailbox. When a retrieval cycle is still in flight as new windows
// trigger, older pending windows are replaced rather than queued: the newest
// audio is always the most relevant, and a backlog of stale windows would only
// produce late injections.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ranhill/speechrag/internal/observe"
	"github.com/ranhill/speechrag/internal/retrieval"
	"github.com/ranhill/speechrag/internal/window"
)

// EventTypeContextInjection is the wire type tag on every injection event.
const EventTypeContextInjection = "CONTEXT_INJECTION"

// InjectionEvent is the JSON message delivered to a session when an alert is
// accepted for injection.
type InjectionEvent struct {
	// Type is always [EventTypeContextInjection].
	Type string `json:"type"`

	// Payload is the alert text wrapped in <context> tags.
	Payload string `json:"payload"`

	// Source identifies the producing pipeline instance.
	Source string `json:"source"`
}

// Encode renders the event as its JSON wire form.
func (ev InjectionEvent) Encode() ([]byte, error) {
	return json.Marshal(ev)
}

// Decider runs one retrieval cycle over an audio window.
type Decider interface {
	Decide(ctx context.Context, window []byte) (retrieval.Result, bool)
}

// Sender delivers an encoded injection event to the session's client. A send
// failure is treated as recoverable: the event is dropped and the session
// keeps streaming.
type Sender func(ctx context.Context, ev InjectionEvent) error

// Config assembles a [Dispatcher].
type Config struct {
	// SessionID labels log lines and spans for this session.
	SessionID string

	// Source is stamped on every emitted [InjectionEvent].
	Source string

	// Window is the per-session sliding window buffer. Required.
	Window *window.Buffer

	// Decider runs retrieval cycles. Required.
	Decider Decider

	// Send delivers accepted injections. Required.
	Send Sender

	// Metrics receives trigger/coalesce/injection observations. When nil the
	// package-level default instruments are used.
	Metrics *observe.Metrics
}

// Dispatcher is the per-session pipeline stage between the transport read
// loop and the retrieval engine. OnChunk must be called from a single
// goroutine (the session's read loop); Run executes retrieval cycles on its
// own goroutine.
type Dispatcher struct {
	sessionID string
	source    string
	buf       *window.Buffer
	decider   Decider
	send      Sender
	metrics   *observe.Metrics

	mailbox chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewDispatcher validates cfg and returns a ready [Dispatcher]. The caller
// must run [Dispatcher.Run] on its own goroutine and call
// [Dispatcher.Close] when the session ends.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Window == nil {
		return nil, fmt.Errorf("stream: window buffer is required")
	}
	if cfg.Decider == nil {
		return nil, fmt.Errorf("stream: decider is required")
	}
	if cfg.Send == nil {
		return nil, fmt.Errorf("stream: sender is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Dispatcher{
		sessionID: cfg.SessionID,
		source:    cfg.Source,
		buf:       cfg.Window,
		decider:   cfg.Decider,
		send:      cfg.Send,
		metrics:   cfg.Metrics,
		mailbox:   make(chan []byte, 1),
		closed:    make(chan struct{}),
	}, nil
}

// OnChunk feeds one chunk of raw PCM into the session's window buffer. When
// the stride schedule fires it offers the window snapshot to the retrieval
// worker, replacing any older window still waiting in the mailbox.
func (d *Dispatcher) OnChunk(ctx context.Context, chunk []byte) {
	snapshot, triggered := d.buf.Append(chunk)
	if !triggered {
		return
	}

	d.metrics.WindowsTriggered.Add(ctx, 1)

	select {
	case d.mailbox <- snapshot:
	default:
		// A window is already pending. Drop it in favour of the newer one.
		// OnChunk is the only producer, so after draining the slot the send
		// below cannot block.
		select {
		case <-d.mailbox:
			d.metrics.WindowsCoalesced.Add(ctx, 1)
		default:
		}
		d.mailbox <- snapshot
	}
}

// Run is the retrieval worker loop. It blocks until ctx is cancelled or
// [Dispatcher.Close] is called, then returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.closed:
			return nil
		case snapshot := <-d.mailbox:
			d.cycle(ctx, snapshot)
		}
	}
}

// cycle runs one retrieval decision and delivers the injection on accept.
func (d *Dispatcher) cycle(ctx context.Context, snapshot []byte) {
	ctx, span := observe.StartSpan(ctx, "retrieval cycle")
	defer span.End()

	log := observe.Logger(ctx).With("session_id", d.sessionID)

	res, ok := d.decider.Decide(ctx, snapshot)
	if !ok {
		return
	}

	ev := InjectionEvent{
		Type:    EventTypeContextInjection,
		Payload: "<context>" + res.Context + "</context>",
		Source:  d.source,
	}

	sendStart := time.Now()
	if err := d.send(ctx, ev); err != nil {
		// The session may simply have disconnected mid-cycle. Drop the event.
		d.metrics.RecordGatewayError(ctx, "deliver")
		log.Warn("injection delivery failed",
			"match_id", res.MatchID,
			"error", err)
		return
	}

	d.metrics.Injections.Add(ctx, 1)
	log.Info("context injected",
		"match_id", res.MatchID,
		"score", res.Score,
		"send_duration", time.Since(sendStart))
}

// Close stops the worker loop. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
}
