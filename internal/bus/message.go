package bus

import (
	"github.com/tanq16/siphon/internal/domain"
)

// Type tags a Message.
type Type string

// Inbound intents.
const (
	TypeRequest     Type = "download-request"
	TypeCancel      Type = "download-cancel"
	TypeRetry       Type = "download-retry"
	TypeRootSet     Type = "download-root-set"
	TypeRootRequest Type = "download-root-request"
	TypeListRequest Type = "download-list-request"
	TypeDelete      Type = "download-delete"
	TypeMediaProbe  Type = "media-probe"
)

// Outbound events.
const (
	TypeInit       Type = "download-init"
	TypeProgress   Type = "download-progress"
	TypeComplete   Type = "download-complete"
	TypeFailed     Type = "download-failed"
	TypeCancelled  Type = "download-cancelled"
	TypeRootHandle Type = "download-root-handle"
	TypeList       Type = "download-list"
	TypeDebug      Type = "download-debug"
)

// Terminal reports whether t ends the life of an item.
func (t Type) Terminal() bool {
	return t == TypeComplete || t == TypeFailed || t == TypeCancelled
}

// Message is the only unit exchanged between contexts. Fields not used by a
// type stay empty and are omitted on the wire.
type Message struct {
	Type  Type   `json:"type"`
	ID    string `json:"id,omitempty"`
	Nonce string `json:"nonce,omitempty"`

	Href        string `json:"href,omitempty"`
	Title       string `json:"title,omitempty"`
	EpisodeInfo string `json:"episodeInfo,omitempty"`
	URL         string `json:"url,omitempty"`

	Payload *domain.Item  `json:"payload,omitempty"`
	Items   []domain.Item `json:"items,omitempty"`

	Progress      float64  `json:"progress,omitempty"`
	BytesReceived int64    `json:"bytesReceived,omitempty"`
	Size          int64    `json:"size,omitempty"`
	ETA           *float64 `json:"eta,omitempty"`
	SegmentsDone  int      `json:"segmentsDone,omitempty"`
	SegmentsTotal int      `json:"segmentsTotal,omitempty"`

	FileName string `json:"fileName,omitempty"`
	Partial  bool   `json:"partial,omitempty"`
	// ResultHandle carries the reassembled bytes to contexts without storage.
	ResultHandle []byte `json:"-"`

	Error string `json:"error,omitempty"`

	// Handle is the root capability of root-set and root-handle messages.
	Handle *domain.RootHandle `json:"handle,omitempty"`

	ContentType string `json:"contentType,omitempty"`
	Status      int    `json:"status,omitempty"`
	Phase       string `json:"phase,omitempty"`
}

// Key identifies a logical event for de-duplication across delivery paths.
func (m Message) Key() string {
	switch {
	case m.Type == TypeDebug:
		return string(m.Type) + "|" + m.ID + "|" + m.Phase
	case m.ID != "":
		return string(m.Type) + "|" + m.ID
	}
	return string(m.Type) + "|#" + m.Nonce
}

// Capability reports whether the message carries something that must not be serialised.
func (m Message) Capability() bool {
	return m.Handle != nil || m.ResultHandle != nil
}
