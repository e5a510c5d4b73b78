package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/petrijr/flowstate/pkg/api"
)

const problemContentType = "application/problem+json"

// problem is an RFC 9457 problem details body.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind api.ErrorKind) int {
	switch kind {
	case "":
		return http.StatusInternalServerError
	case api.KindNotFound:
		return http.StatusNotFound
	case api.KindDuplicateName, api.KindConflict, api.KindIntegrity:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeProblem(w http.ResponseWriter, status int, kind api.ErrorKind, detail string) {
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Kind:   string(kind),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
