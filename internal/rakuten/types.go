package rakuten

import "encoding/json"

// EventType tags one event of a streaming response.
type EventType string

const (
	EventReasoningStart EventType = "reasoning-start"
	EventReasoningDelta EventType = "reasoning-delta"
	EventTextDelta      EventType = "text-delta"
	EventImage          EventType = "image"
	EventImageThumbnail EventType = "image-thumbnail"
	EventToolCall       EventType = "tool-call"
	EventError          EventType = "error"
)

// Event is one element of a response stream. Unrecognized types are passed
// through with Raw intact so callers can log them without breaking on new
// backend event kinds.
type Event struct {
	Type EventType       `json:"type"`
	Text string          `json:"text,omitempty"`
	URL  string          `json:"url,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// Known reports whether the event type is one this client understands.
func (e Event) Known() bool {
	switch e.Type {
	case EventReasoningStart, EventReasoningDelta, EventTextDelta,
		EventImage, EventImageThumbnail, EventToolCall, EventError:
		return true
	}
	return false
}

// UploadedFile is the backend-side handle for an ingested attachment. It is
// only useful as a content part of a subsequent SendMessage call on the same
// thread.
type UploadedFile struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IsImage bool   `json:"isImage,omitempty"`
}

// ContentPart is one typed element of a message submission.
type ContentPart struct {
	Type string        `json:"type"` // "text" or "file"
	Text string        `json:"text,omitempty"`
	File *UploadedFile `json:"file,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// FilePart builds a file-reference content part.
func FilePart(f UploadedFile) ContentPart {
	return ContentPart{Type: "file", File: &f}
}

// SendMessageRequest is a full turn submission.
type SendMessageRequest struct {
	Mode     string        `json:"mode"` // "USER_INPUT"
	Contents []ContentPart `json:"contents"`
}
