package api

import (
	"encoding/json"
	"net/http"
)

// Error is the JSON body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorKind pairs an HTTP status with the machine-readable code clients
// switch on.
type errorKind struct {
	status int
	code   string
}

var (
	errBadRequest    = errorKind{http.StatusBadRequest, "bad_request"}
	errForbidden     = errorKind{http.StatusForbidden, "forbidden"}
	errNotFound      = errorKind{http.StatusNotFound, "not_found"}
	errHandlerFailed = errorKind{http.StatusInternalServerError, "handler_failed"}
	errInternal      = errorKind{http.StatusInternalServerError, "internal_error"}
)

// unknownObject is configurable because hubs disagree on what a missing
// target should look like.
func unknownObject(status int) errorKind {
	return errorKind{status, "unknown_object"}
}

func (k errorKind) write(w http.ResponseWriter, message string) {
	writeJSON(w, k.status, Error{Status: k.status, Code: k.code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may be gone
	}
}

// writeOK writes the plain "OK" body hubs expect from wire endpoints.
func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK")) //nolint:errcheck // client may be gone
}
