package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/petrijr/flowstate/pkg/api"
)

type handler struct {
	eng        api.Engine
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "Running", Timestamp: h.now().UTC()})
}

func (h *handler) registerDefinition(w http.ResponseWriter, r *http.Request) {
	var req definitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	def, err := h.eng.RegisterDefinition(r.Context(), req.toAPI())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/definitions/"+def.ID)
	writeJSON(w, http.StatusCreated, def)
}

func (h *handler) listDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.eng.ListDefinitions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if defs == nil {
		defs = []*api.Definition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

func (h *handler) getDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.eng.GetDefinition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *handler) createInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.DefinitionID == "" {
		writeProblem(w, http.StatusBadRequest, "", "definitionId is required")
		return
	}
	inst, err := h.eng.CreateInstance(r.Context(), req.DefinitionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/instances/"+inst.ID)
	writeJSON(w, http.StatusCreated, inst)
}

func (h *handler) listInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	insts, err := h.eng.ListInstances(r.Context(), api.InstanceListOptions{
		DefinitionID: q.Get("definitionId"),
		CurrentState: q.Get("state"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if insts == nil {
		insts = []*api.Instance{}
	}
	writeJSON(w, http.StatusOK, insts)
}

func (h *handler) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.eng.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *handler) executeAction(w http.ResponseWriter, r *http.Request) {
	var req executeActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ActionID == "" {
		writeProblem(w, http.StatusBadRequest, "", "actionId is required")
		return
	}
	inst, err := h.eng.ExecuteAction(r.Context(), chi.URLParam(r, "id"), req.ActionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *handler) enqueueAction(w http.ResponseWriter, r *http.Request) {
	var req enqueueActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ActionID == "" {
		writeProblem(w, http.StatusBadRequest, "", "actionId is required")
		return
	}
	instanceID := chi.URLParam(r, "id")
	if _, err := h.eng.GetInstance(r.Context(), instanceID); err != nil {
		h.fail(w, r, err)
		return
	}

	var at time.Time
	if req.NotBefore != nil {
		at = *req.NotBefore
	}
	taskID, err := h.dispatcher.EnqueueActionAt(r.Context(), instanceID, req.ActionID, at)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueActionResponse{
		TaskID:     taskID,
		InstanceID: instanceID,
		ActionID:   req.ActionID,
	})
}

func (h *handler) availableActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.eng.AvailableActions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.eng.ListEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// decode reads a JSON body into v. It writes a 400 and returns false on
// malformed input.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		writeProblem(w, http.StatusBadRequest, "", "request body is empty")
	case errors.As(err, &maxErr):
		writeProblem(w, http.StatusRequestEntityTooLarge, "", "request body too large")
	default:
		writeProblem(w, http.StatusBadRequest, "", "malformed JSON: "+err.Error())
	}
	return false
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := api.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "engine call failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeProblem(w, status, "", "internal error")
		return
	}
	writeProblem(w, status, kind, err.Error())
}
