package types

// Event is the broadcastable form of a state transition notification: a type
// tag plus flat string attributes suitable for indexers and log pipelines.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
