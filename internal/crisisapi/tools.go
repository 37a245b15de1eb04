package crisisapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/lifeline/internal/crisis"
	"github.com/linnemanlabs/lifeline/internal/tools"
)

type toolRequest struct {
	UserName string          `json:"user_name"`
	Location string          `json:"location"`
	Message  string          `json:"message"`
	Input    json.RawMessage `json:"input"`
}

type toolResponse struct {
	Output json.RawMessage `json:"output"`
}

func (a *API) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": a.registry.ToToolDefs()})
}

func (a *API) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tool, ok := a.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown tool")
		return
	}

	var req toolRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := tools.WithSubject(r.Context(), tools.Subject{
		UserName: orDefault(req.UserName, crisis.DefaultUserName),
		Location: orDefault(req.Location, crisis.DefaultLocation),
		Message:  req.Message,
	})

	out, err := tool.Execute(ctx, req.Input)
	if err != nil {
		a.logger.Warn(r.Context(), "tool execution failed", "tool", name, "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toolResponse{Output: out})
}
