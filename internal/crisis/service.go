package crisis

import (
	"context"
	"fmt"
	"sync"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/lifeline/internal/notify"
)

// CrisisReply is returned to the user whenever a screening is positive.
const CrisisReply = "I'm concerned about what you're sharing. You are not alone. " +
	"Please contact emergency services at 911. I have also notified a support team to check on you."

// Defaults applied to missing subject fields.
const (
	DefaultUserName = "Anonymous"
	DefaultLocation = "Unknown"
)

// Escalation sources, used as metric labels.
const (
	SourceScreen = "screen"
	SourceDirect = "direct"
	SourceTool   = "tool"
)

// maxShortMessage caps the user text forwarded to alert channels, in runes.
const maxShortMessage = 300

// Classifier is the detection dependency of the Service.
type Classifier interface {
	Detect(ctx context.Context, text string) Result
}

// Escalator delivers an alert event. Implementations must not block forever
// and must not panic; the Service recovers regardless.
type Escalator interface {
	TriggerAlert(ctx context.Context, ev notify.Event)
}

// Message is one inbound user message.
type Message struct {
	UserName string
	Location string
	Text     string
}

// Screening is the outcome of Service.Screen.
type Screening struct {
	ID       string
	IsCrisis bool
	Reason   string
	Reply    string
}

// Service runs detection and schedules escalation for positive results.
type Service struct {
	classifier Classifier
	escalator  Escalator
	logger     log.Logger
	hooks      Hooks

	wg sync.WaitGroup
}

// NewService creates a screening service.
func NewService(classifier Classifier, escalator Escalator, logger log.Logger, hooks Hooks) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		classifier: classifier,
		escalator:  escalator,
		logger:     logger,
		hooks:      hooks,
	}
}

// Screen classifies msg. On a positive result escalation is started in the
// background and Reply carries the supportive crisis response.
func (s *Service) Screen(ctx context.Context, msg Message) Screening {
	id := ulid.Make().String()
	res := s.classifier.Detect(ctx, msg.Text)
	if !res.IsCrisis {
		return Screening{ID: id}
	}

	s.dispatch(ctx, SourceScreen, notify.Event{
		ID:           id,
		UserName:     msg.UserName,
		Location:     msg.Location,
		Reason:       res.Reason,
		ShortMessage: msg.Text,
	})
	return Screening{ID: id, IsCrisis: true, Reason: res.Reason, Reply: CrisisReply}
}

// Escalate schedules delivery of ev without detection and returns its id.
// source labels the caller for metrics, e.g. SourceDirect or SourceTool.
func (s *Service) Escalate(ctx context.Context, source string, ev notify.Event) string {
	ev.ID = ulid.Make().String()
	s.dispatch(ctx, source, ev)
	return ev.ID
}

// Wait blocks until every escalation started so far has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) dispatch(ctx context.Context, source string, ev notify.Event) {
	if ev.UserName == "" {
		ev.UserName = DefaultUserName
	}
	if ev.Location == "" {
		ev.Location = DefaultLocation
	}
	ev.ShortMessage = truncateRunes(ev.ShortMessage, maxShortMessage)

	if s.hooks.OnEscalate != nil {
		s.hooks.OnEscalate(source)
	}
	s.logger.Warn(ctx, "crisis escalation scheduled", "alert_id", ev.ID, "source", source)

	s.wg.Add(1)
	go s.escalate(context.WithoutCancel(ctx), ev)
}

func (s *Service) escalate(ctx context.Context, ev notify.Event) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, fmt.Errorf("crisis: escalation panic: %v", r), "escalation aborted", "alert_id", ev.ID)
		}
	}()
	if s.escalator == nil {
		s.logger.Error(ctx, fmt.Errorf("crisis: no escalator configured"), "escalation dropped", "alert_id", ev.ID)
		return
	}
	s.escalator.TriggerAlert(ctx, ev)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
