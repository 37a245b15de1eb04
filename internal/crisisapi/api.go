// Package crisisapi is the HTTP boundary of lifeline: screening, detection,
// direct escalation and the model tool endpoints.
package crisisapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/lifeline/internal/crisis"
	"github.com/linnemanlabs/lifeline/internal/notify"
	"github.com/linnemanlabs/lifeline/internal/tools"
)

// ScreeningService defines the business operations crisisapi needs.
type ScreeningService interface {
	Screen(ctx context.Context, msg crisis.Message) crisis.Screening
	Escalate(ctx context.Context, source string, ev notify.Event) string
}

// Detector classifies text without side effects.
type Detector interface {
	Detect(ctx context.Context, text string) crisis.Result
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      ScreeningService
	detector Detector
	registry *tools.Registry
}

// New creates the API. A nil registry serves an empty tool list.
func New(logger log.Logger, svc ScreeningService, detector Detector, registry *tools.Registry) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("screening service is required"))
	}
	if detector == nil {
		panic(xerrors.New("detector is required"))
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &API{
		logger:   logger,
		svc:      svc,
		detector: detector,
		registry: registry,
	}
}

// RegisterRoutes attaches API endpoints to the router. mw wraps every
// /api/v1 route, typically authentication.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)
		r.Post("/screen", a.handleScreen)
		r.Post("/detect", a.handleDetect)
		r.Post("/alerts", a.handleAlert)
		r.Get("/tools", a.handleListTools)
		r.Post("/tools/{name}", a.handleExecuteTool)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}
