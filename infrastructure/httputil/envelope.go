// Package httputil provides the JSON response envelope and small request
// helpers shared by the HTTP adapter. HTTP framing itself is an external
// collaborator; this package only shapes the bytes going over it.
package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sportsbook-ops/backbone/infrastructure/apperr"
)

// Pagination describes a page of a list response.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalItems int `json:"totalItems"`
}

// Metadata is attached to every envelope.
type Metadata struct {
	Timestamp      time.Time   `json:"timestamp"`
	RequestID      string      `json:"requestId"`
	ProcessingTime string      `json:"processingTime"`
	Pagination     *Pagination `json:"pagination,omitempty"`
}

// ErrorBody is the `error` field of a failure envelope.
type ErrorBody struct {
	Kind    apperr.Code            `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Envelope is the `{status, data?, error?, metadata}` wire shape every route returns.
type Envelope struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

type ctxKey string

const startKey ctxKey = "httputil_start"
const requestIDKey ctxKey = "httputil_request_id"

// WriteSuccess writes a success envelope with the given status code and data.
func WriteSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}, pagination *Pagination) {
	env := Envelope{
		Status:   "success",
		Data:     data,
		Metadata: metadataFor(r),
	}
	env.Metadata.Pagination = pagination
	writeJSON(w, status, env)
}

// WriteError writes a failure envelope, mapping err's apperr.Code to a transport status.
// A correlation id for support is returned separately in the envelope metadata,
// never inside the error body, per the error-handling contract.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := &ErrorBody{Kind: apperr.CodeInternal, Message: "internal error"}
	if appErr, ok := apperr.As(err); ok {
		body.Kind = appErr.Code
		body.Message = appErr.Message
		body.Details = appErr.Details
		if appErr.Code == apperr.CodeInternal {
			// never leak internal error text to external clients
			body.Message = "internal error"
			body.Details = nil
		}
	}
	env := Envelope{
		Status:   "error",
		Error:    body,
		Metadata: metadataFor(r),
	}
	writeJSON(w, status, env)
}

func metadataFor(r *http.Request) Metadata {
	md := Metadata{Timestamp: time.Now().UTC(), RequestID: RequestID(r.Context())}
	if start, ok := r.Context().Value(startKey).(time.Time); ok {
		md.ProcessingTime = time.Since(start).String()
	}
	return md
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WithTiming stamps ctx with the time the request started, for ProcessingTime.
func WithTiming(r *http.Request) *http.Request {
	ctx := r.Context()
	if _, ok := ctx.Value(startKey).(time.Time); ok {
		return r
	}
	return r.WithContext(context.WithValue(ctx, startKey, time.Now()))
}

// WithRequestID stamps ctx with the given request id.
func WithRequestID(r *http.Request, id string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), requestIDKey, id))
}

// RequestID reads the request id from ctx, or "" if unset.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
