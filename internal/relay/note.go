package relay

import (
	"encoding/json"
	"time"
)

// Note is one entry on the wall. A note belongs to exactly one thread and is
// persisted as a single JSON file named after its id. Read order is the order
// of persistence, not the note timestamp.
type Note struct {
	ID        string          `json:"id"`
	Author    string          `json:"author,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Content   json.RawMessage `json:"content"`
	Tags      [][]string      `json:"tags,omitempty"`
	Sig       string          `json:"sig,omitempty"`
}

// NoteFromEvent converts an inbound wire event into a wall note, preserving
// the signature block so the stored file remains verifiable.
func NoteFromEvent(e Event) Note {
	content, err := json.Marshal(e.Content)
	if err != nil {
		// a string always marshals; keep the raw text as a fallback
		content = json.RawMessage(`""`)
	}

	return Note{
		ID:        e.ID,
		Author:    e.PubKey,
		CreatedAt: e.Time(),
		Content:   content,
		Tags:      e.Tags,
		Sig:       e.Sig,
	}
}
