package main

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/blampe/bookinfo/internal"
)

// responseMeta carries a timestamp plus provenance alongside every payload.
type responseMeta struct {
	Timestamp      time.Time `json:"timestamp"`
	ProcessingTime int64     `json:"processingTime,omitempty"` // milliseconds
	Provider       string    `json:"provider,omitempty"`
	Cached         bool      `json:"cached"`
}

// responseError is the error half of the {data, metadata, error} envelope.
type responseError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type envelope struct {
	Data     any            `json:"data"`
	Metadata *responseMeta  `json:"metadata,omitempty"`
	Error    *responseError `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write(payload)
}

// writeData writes a successful envelope. A nil meta still gets a stamped
// metadata block; callers that know provenance pass their own.
func writeData(w http.ResponseWriter, status int, data any, meta *responseMeta) {
	if meta == nil {
		meta = &responseMeta{}
	}
	meta.Timestamp = time.Now()
	writeJSON(w, status, envelope{Data: data, Metadata: meta})
}

// writeError translates a typed *internal.Error into the HTTP envelope,
// mapping Kind to status code via internal.StatusCode so this file never
// has to duplicate the Kind-to-status table.
func writeError(w http.ResponseWriter, err error) {
	typed := internal.AsTyped(err)
	status := internal.StatusCode(err)

	// A zero-result lookup is surfaced as 200 with a null data payload, not
	// an HTTP error. An explicit status override (404 unknown job) wins.
	if typed.Kind == internal.KindNotFound && typed.Status == 0 {
		writeData(w, http.StatusOK, nil, nil)
		return
	}

	writeJSON(w, status, envelope{
		Metadata: &responseMeta{Timestamp: time.Now()},
		Error:    &responseError{Code: typed.Code, Message: typed.Message, Details: typed.Details},
	})
}
