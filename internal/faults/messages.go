// File: internal/faults/messages.go
package faults

// Message is the user-facing presentation of a failure category. This is
// presentation only; retry logic never consults it.
type Message struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

var messages = map[Category]Message{
	CategoryCritical: {
		Title:       "Browser session lost",
		Description: "The browser crashed or disconnected while the page was being captured.",
		Action:      "The session will be restarted automatically. If this keeps happening, check available memory.",
	},
	CategoryReport: {
		Title:       "Report generation failed",
		Description: "The comparison result could not be rendered, usually because the payload is too large.",
		Action:      "Reduce the report chunk size or limit the compared node depth.",
	},
	CategoryExtraction: {
		Title:       "Element not found",
		Description: "An expected element was missing from the page or design file.",
		Action:      "The extraction will retry with a fallback strategy.",
	},
	CategoryAuth: {
		Title:       "Authentication failed",
		Description: "The design source or web page rejected the provided credentials.",
		Action:      "Verify the API token and page credentials, then retry.",
	},
	CategoryWarning: {
		Title:       "Non-critical warning",
		Description: "A third-party resource produced noise that does not affect the comparison.",
		Action:      "No action needed.",
	},
	CategoryNetwork: {
		Title:       "Network error",
		Description: "A network call failed or timed out.",
		Action:      "Check connectivity and retry.",
	},
	CategoryUnknown: {
		Title:       "Unexpected error",
		Description: "An unclassified failure occurred.",
		Action:      "Retry; report the issue if it persists.",
	},
}

// MessageFor returns the presentation tuple for a category, falling back to
// the unknown-category message.
func MessageFor(c Category) Message {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CategoryUnknown]
}
