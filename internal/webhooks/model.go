package webhooks

import (
	"encoding/json"
	"time"
)

// EventIntegrityCompromised is dispatched for every integrity alert.
const EventIntegrityCompromised = "chain.integrity_compromised"

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Chain-Signature"

// Event is the JSON body posted to every endpoint.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	URL        string
	EventType  string
	StatusCode int
	Attempt    int
	Success    bool
	Error      string
}
