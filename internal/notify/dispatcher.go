package notify

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

var tracer = otel.Tracer("github.com/linnemanlabs/lifeline/internal/notify")

// ErrAllChannelsFailed is logged when no channel delivered an alert.
var ErrAllChannelsFailed = xerrors.New("notify: all alert channels failed")

// Channel outcomes, used as metric labels and span event attributes.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomePanicked = "panicked"
)

// Channel is one entry in the dispatch order.
type Channel struct {
	Name     string
	Provider Provider
	Format   Formatter
	// Enabled false means the channel is not configured; it is skipped
	// without calling the provider.
	Enabled bool
}

// Hooks receives dispatch events, typically wired to Metrics. Nil funcs are skipped.
type Hooks struct {
	OnAttempt   func(channel, outcome string, seconds float64)
	OnExhausted func()
}

// Dispatcher delivers alerts through channels in priority order.
type Dispatcher struct {
	channels []Channel
	logger   log.Logger
	hooks    Hooks
}

// NewDispatcher returns a Dispatcher trying channels in the given order.
func NewDispatcher(logger log.Logger, hooks Hooks, channels ...Channel) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		channels: append([]Channel(nil), channels...),
		logger:   logger,
		hooks:    hooks,
	}
}

// Enabled returns the names of enabled channels in dispatch order.
func (d *Dispatcher) Enabled() []string {
	var out []string
	for _, c := range d.channels {
		if c.Enabled {
			out = append(out, c.Name)
		}
	}
	return out
}

// TriggerAlert delivers ev through the first channel that succeeds. Channels
// are tried one at a time; a failure moves on to the next. When every channel
// fails the event is logged at error level with severity=critical.
func (d *Dispatcher) TriggerAlert(ctx context.Context, ev Event) {
	ctx, span := tracer.Start(ctx, "notify.dispatch", trace.WithAttributes(
		attribute.String("lifeline.alert.id", ev.ID),
		attribute.Int("lifeline.alert.channels", len(d.channels)),
	))
	defer span.End()

	L := d.logger.With("alert_id", ev.ID)
	L.Warn(ctx, "crisis alert triggered", "reason", ev.Reason)

	for i, ch := range d.channels {
		outcome := d.attempt(ctx, L, ch, ev)
		span.AddEvent("channel", trace.WithAttributes(
			attribute.String("channel", ch.Name),
			attribute.Int("position", i),
			attribute.String("outcome", outcome),
		))
		if outcome == OutcomeSent {
			span.SetAttributes(attribute.String("lifeline.alert.delivered_by", ch.Name))
			L.Info(ctx, "crisis alert delivered", "channel", ch.Name, "position", i)
			return
		}
	}

	if d.hooks.OnExhausted != nil {
		d.hooks.OnExhausted()
	}
	span.RecordError(ErrAllChannelsFailed)
	span.SetStatus(codes.Error, ErrAllChannelsFailed.Error())
	L.Error(ctx, ErrAllChannelsFailed, "CRITICAL: crisis alert could not be delivered",
		"severity", "critical",
		"channels", len(d.channels),
		"user", ev.UserName,
		"location", ev.Location,
	)
}

func (d *Dispatcher) attempt(ctx context.Context, L log.Logger, ch Channel, ev Event) (outcome string) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			L.Error(ctx, fmt.Errorf("notify: provider panic: %v", r), "alert channel panicked", "channel", ch.Name)
			outcome = OutcomePanicked
		}
		if d.hooks.OnAttempt != nil {
			d.hooks.OnAttempt(ch.Name, outcome, time.Since(start).Seconds())
		}
	}()

	if !ch.Enabled || ch.Provider == nil {
		L.Warn(ctx, "alert channel not configured, skipping", "channel", ch.Name)
		return OutcomeSkipped
	}

	format := ch.Format
	if format == nil {
		format = RichFormatter()
	}
	if ch.Provider.Send(ctx, format(ev)) {
		return OutcomeSent
	}
	L.Warn(ctx, "alert channel failed, trying next", "channel", ch.Name, "provider", ch.Provider.Name())
	return OutcomeFailed
}
