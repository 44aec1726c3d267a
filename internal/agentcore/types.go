// Package agentcore provides the HTTP client for the remote AgentCore
// agent-invocation API. The client owns exactly the two verbs the workflow
// controller depends on: Invoke for request/response phases and CheckStatus
// for the poll loop, plus an optional SSE progress stream.
package agentcore

import "encoding/json"

// Result is the artifact reference produced by a completed operation.
type Result struct {
	// URL points at the produced artifact (video, deck) when one exists.
	URL string `json:"url,omitempty"`
	// Ref is an opaque backend identifier for the artifact.
	Ref string `json:"ref,omitempty"`
	// Summary is a short markdown summary of what was produced.
	Summary string `json:"summary,omitempty"`
	// Data carries kind-specific structure (e.g. the extracted import rows).
	Data json.RawMessage `json:"data,omitempty"`
}

// InvokeRequest is the body of POST /invoke.
type InvokeRequest struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}

// InvokeResponse is the backend's answer to an invocation. Exactly one of
// three shapes comes back: a synchronous Result, an accepted Handle for a
// long-running operation, or a domain rejection with a message.
type InvokeResponse struct {
	Accepted bool    `json:"accepted"`
	Handle   string  `json:"handle,omitempty"`
	Rejected bool    `json:"rejected,omitempty"`
	Message  string  `json:"message,omitempty"`
	Result   *Result `json:"result,omitempty"`
}

// Status values reported by GET /operations/{handle}. The controller maps
// this vocabulary onto its own phase set; unknown values are treated as
// non-terminal.
const (
	StatusWaiting     = "waiting"
	StatusPending     = "pending"
	StatusQueued      = "queued"
	StatusProcessing  = "processing"
	StatusNeedsReview = "needs_review"
	StatusCompleted   = "completed"
	StatusSucceeded   = "succeeded"
	StatusFailed      = "failed"
	StatusError       = "error"
	StatusRejected    = "rejected"
	StatusInvalid     = "invalid"
)

// StatusResponse is one status check for a long-running operation.
type StatusResponse struct {
	Status   string  `json:"status"`
	Progress int     `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`
	Result   *Result `json:"result,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// TerminalSuccess reports whether the status ends the operation with a result.
func (r StatusResponse) TerminalSuccess() bool {
	return r.Status == StatusCompleted || r.Status == StatusSucceeded
}

// TerminalFailure reports whether the backend explicitly reported failure.
func (r StatusResponse) TerminalFailure() bool {
	return r.Status == StatusFailed || r.Status == StatusError
}

// DomainRejection reports whether the backend declined the input on domain
// grounds (user-correctable, not a system failure).
func (r StatusResponse) DomainRejection() bool {
	return r.Status == StatusRejected || r.Status == StatusInvalid
}

// Event is one server-sent progress event for an operation.
type Event struct {
	Handle   string `json:"handle"`
	Status   string `json:"status"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
}
