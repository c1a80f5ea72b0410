package problem

import (
	"encoding/json"
	"net/http"
)

const (
	contentType = "application/problem+json"
	baseTypeURL = "https://errors.payout-reconciler.dev/"
	traceHeader = "X-Trace-ID"
)

// Details represents RFC 7807 Problem Details. InvalidParams is the
// "invalid-params" extension member, set only for request validation failures.
type Details struct {
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Status        int            `json:"status"`
	Detail        string         `json:"detail"`
	Instance      string         `json:"instance"`
	RequestID     string         `json:"request_id"`
	InvalidParams []InvalidParam `json:"invalid_params,omitempty"`
}

// InvalidParam names one rejected request field.
type InvalidParam struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends an RFC 7807 error body.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	Send(w, New(r, status, problemType, title, detail))
}

// New builds problem details for the request. The request id falls back to the
// X-Trace-ID response header set by the trace middleware, resolved in Send.
func New(r *http.Request, status int, problemType, title, detail string) Details {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	d := Details{Type: problemType, Title: title, Status: status, Detail: detail}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get(traceHeader)
	}
	return d
}

func Send(w http.ResponseWriter, d Details) {
	if d.RequestID == "" {
		d.RequestID = w.Header().Get(traceHeader)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}
