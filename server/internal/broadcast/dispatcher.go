// Package broadcast fans encoded room snapshots out to room members.
//
// A failed delivery to one member never affects the others: the failing
// member is disconnected and the failure is reported in the Result.
package broadcast

import (
	"fmt"
	"log/slog"

	"github.com/roomcast/roomcast/server/internal/metrics"
)

// Disconnect reasons passed to Target.Disconnect.
const (
	ReasonSendFailed = "send failed"
	ReasonKicked     = "kicked"
)

// Target is a single recipient. Send must not block; Disconnect must not block
// and must not call back into the room that owns the target.
type Target interface {
	ID() string
	Send(payload []byte) error
	Disconnect(reason string)
}

// DispatchError reports a delivery failure to one member.
type DispatchError struct {
	Room   string
	Target string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s in room %s: %v", e.Target, e.Room, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Result summarizes one Broadcast call.
type Result struct {
	Delivered int
	Failed    []*DispatchError
}

// Dispatcher delivers payloads to targets.
type Dispatcher struct {
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used to report failed deliveries.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMetrics records broadcast outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New returns a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Broadcast sends payload to every target in order. Targets whose Send fails
// are disconnected with ReasonSendFailed; delivery continues with the rest.
func (d *Dispatcher) Broadcast(room string, targets []Target, payload []byte) Result {
	var res Result
	for _, t := range targets {
		if err := t.Send(payload); err != nil {
			de := &DispatchError{Room: room, Target: t.ID(), Err: err}
			res.Failed = append(res.Failed, de)
			d.log.Warn("broadcast delivery failed", "room", room, "conn", t.ID(), "err", err)
			t.Disconnect(ReasonSendFailed)
			continue
		}
		res.Delivered++
	}
	d.metrics.Broadcast(res.Delivered, len(res.Failed))
	return res
}
