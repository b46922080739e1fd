package types

// Event represents a typed record appended to an agreement's event log.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
