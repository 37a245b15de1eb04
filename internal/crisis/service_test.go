package crisis

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lifeline/internal/notify"
)

// recordingEscalator captures triggered events.
type recordingEscalator struct {
	mu     sync.Mutex
	events []notify.Event
	panics bool
}

func (r *recordingEscalator) TriggerAlert(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if r.panics {
		panic("escalator exploded")
	}
}

func (r *recordingEscalator) snapshot() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func newTestService(esc Escalator, hooks Hooks) (*Service, *Detector) {
	d := NewDetector(nil, log.Nop(), Options{})
	return NewService(d, esc, log.Nop(), hooks), d
}

func TestScreen_CrisisEscalates(t *testing.T) {
	t.Parallel()

	esc := &recordingEscalator{}
	var sources []string
	svc, d := newTestService(esc, Hooks{OnEscalate: func(s string) { sources = append(sources, s) }})
	defer d.Close()

	got := svc.Screen(context.Background(), Message{UserName: "Rishabh", Location: "Pune", Text: "I want to kill myself"})
	svc.Wait()

	if !got.IsCrisis || got.Reason != ReasonLexical || got.Reply != CrisisReply {
		t.Fatalf("Screen = %+v", got)
	}
	if got.ID == "" {
		t.Error("expected screening id")
	}

	events := esc.snapshot()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.ID != got.ID || ev.UserName != "Rishabh" || ev.Location != "Pune" || ev.Reason != ReasonLexical {
		t.Errorf("event = %+v", ev)
	}
	if ev.ShortMessage != "I want to kill myself" {
		t.Errorf("short message = %q", ev.ShortMessage)
	}
	if len(sources) != 1 || sources[0] != SourceScreen {
		t.Errorf("sources = %v", sources)
	}
}

func TestScreen_NonCrisisDoesNotEscalate(t *testing.T) {
	t.Parallel()

	esc := &recordingEscalator{}
	svc, d := newTestService(esc, Hooks{})
	defer d.Close()

	got := svc.Screen(context.Background(), Message{Text: "I am feeling okay today"})
	svc.Wait()

	if got.IsCrisis || got.Reason != "" || got.Reply != "" {
		t.Errorf("Screen = %+v, want non-crisis", got)
	}
	if n := len(esc.snapshot()); n != 0 {
		t.Errorf("escalations = %d, want 0", n)
	}
}

func TestScreen_DefaultsSubject(t *testing.T) {
	t.Parallel()

	esc := &recordingEscalator{}
	svc, d := newTestService(esc, Hooks{})
	defer d.Close()

	svc.Screen(context.Background(), Message{Text: "no reason to live"})
	svc.Wait()

	ev := esc.snapshot()[0]
	if ev.UserName != DefaultUserName || ev.Location != DefaultLocation {
		t.Errorf("event = %+v, want defaults", ev)
	}
}

func TestScreen_CancelledRequestStillEscalates(t *testing.T) {
	t.Parallel()

	esc := &recordingEscalator{}
	svc, d := newTestService(esc, Hooks{})
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	svc.Screen(ctx, Message{Text: "I want to die"})
	cancel()
	svc.Wait()

	if n := len(esc.snapshot()); n != 1 {
		t.Errorf("escalations = %d, want 1", n)
	}
}

func TestEscalate_AssignsIDAndTruncates(t *testing.T) {
	t.Parallel()

	esc := &recordingEscalator{}
	svc, d := newTestService(esc, Hooks{})
	defer d.Close()

	id := svc.Escalate(context.Background(), SourceTool, notify.Event{
		ID:           "caller-supplied",
		Reason:       "Crisis detected by LLM",
		ShortMessage: strings.Repeat("é", 500),
	})
	svc.Wait()

	if id == "" || id == "caller-supplied" {
		t.Errorf("id = %q, want fresh ulid", id)
	}
	ev := esc.snapshot()[0]
	if ev.ID != id {
		t.Errorf("event id = %q, want %q", ev.ID, id)
	}
	if n := len([]rune(ev.ShortMessage)); n != maxShortMessage+3 {
		t.Errorf("short message runes = %d, want %d", n, maxShortMessage+3)
	}
}

func TestEscalate_PanicRecovered(t *testing.T) {
	t.Parallel()

	esc := &recordingEscalator{panics: true}
	svc, d := newTestService(esc, Hooks{})
	defer d.Close()

	svc.Escalate(context.Background(), SourceDirect, notify.Event{Reason: "r"})
	svc.Wait()

	if n := len(esc.snapshot()); n != 1 {
		t.Errorf("escalations = %d, want 1", n)
	}
}

func TestEscalate_NilEscalator(t *testing.T) {
	t.Parallel()

	svc, d := newTestService(nil, Hooks{})
	defer d.Close()

	if id := svc.Escalate(context.Background(), SourceDirect, notify.Event{}); id == "" {
		t.Error("expected id even without escalator")
	}
	svc.Wait()
}

func TestScreen_WithDispatcher(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{ok: true}
	backup := &stubProvider{ok: true}
	disp := notify.NewDispatcher(log.Nop(), notify.Hooks{},
		notify.Channel{Name: "sms", Provider: primary, Format: notify.SMSFormatter("+1"), Enabled: true},
		notify.Channel{Name: "telegram", Provider: backup, Format: notify.RichFormatter(), Enabled: true},
	)
	svc, d := newTestService(disp, Hooks{})
	defer d.Close()

	svc.Screen(context.Background(), Message{UserName: "Rishabh", Location: "Pune", Text: "I took an overdose"})
	svc.Wait()

	if len(primary.sent) != 1 || len(backup.sent) != 0 {
		t.Fatalf("sent primary=%d backup=%d, want 1/0", len(primary.sent), len(backup.sent))
	}
	msg := primary.sent[0][notify.KeyMessage]
	if !strings.Contains(msg, "Rishabh") || !strings.Contains(msg, "Pune") {
		t.Errorf("sms = %q", msg)
	}
}

type stubProvider struct {
	ok   bool
	sent []notify.Payload
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Send(_ context.Context, p notify.Payload) bool {
	s.sent = append(s.sent, p)
	return s.ok
}
