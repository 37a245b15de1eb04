package crisisapi

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/lifeline/internal/crisis"
	"github.com/linnemanlabs/lifeline/internal/notify"
)

type screenRequest struct {
	UserName string `json:"user_name"`
	Location string `json:"location"`
	Text     string `json:"text"`
}

type screenResponse struct {
	ID       string `json:"id"`
	IsCrisis bool   `json:"is_crisis"`
	Reason   string `json:"reason,omitempty"`
	Reply    string `json:"reply,omitempty"`
}

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	IsCrisis bool   `json:"is_crisis"`
	Reason   string `json:"reason,omitempty"`
}

type alertRequest struct {
	UserName string `json:"user_name"`
	Location string `json:"location"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
}

func (a *API) handleScreen(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	s := a.svc.Screen(r.Context(), crisis.Message{
		UserName: orDefault(req.UserName, crisis.DefaultUserName),
		Location: orDefault(req.Location, crisis.DefaultLocation),
		Text:     req.Text,
	})

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("lifeline.screening.id", s.ID),
		attribute.Bool("lifeline.screening.is_crisis", s.IsCrisis),
	)

	writeJSON(w, http.StatusOK, screenResponse{
		ID:       s.ID,
		IsCrisis: s.IsCrisis,
		Reason:   s.Reason,
		Reply:    s.Reply,
	})
}

func (a *API) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	res := a.detector.Detect(r.Context(), req.Text)
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Bool("lifeline.detect.is_crisis", res.IsCrisis))

	writeJSON(w, http.StatusOK, detectResponse{IsCrisis: res.IsCrisis, Reason: res.Reason})
}

func (a *API) handleAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	id := a.svc.Escalate(r.Context(), crisis.SourceDirect, notify.Event{
		UserName:     orDefault(req.UserName, crisis.DefaultUserName),
		Location:     orDefault(req.Location, crisis.DefaultLocation),
		Reason:       req.Reason,
		ShortMessage: req.Message,
	})
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("lifeline.alert.id", id))

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
