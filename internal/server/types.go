package server

import "time"

// QueryRequest is the request body for POST /query.
type QueryRequest struct {
	Question string `json:"question"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// PendingResponse is the response body for GET /decisions/pending.
type PendingResponse struct {
	Pending []PendingDecision `json:"pending"`
}

// PendingDecision pairs an email awaiting review with its pending
// decision, so a client can confirm or correct by decision id.
type PendingDecision struct {
	DecisionID string    `json:"decision_id"`
	EmailID    string    `json:"email_id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Snippet    string    `json:"snippet,omitempty"`
	Verdict    string    `json:"verdict"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// CorrectRequest is the request body for POST /decisions/:id/correct.
type CorrectRequest struct {
	Verdict string `json:"verdict"`
}
