package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/kolabpad/kolabpad/pkg/ot"
)

// UserInfo is a connected user's display identity.
type UserInfo struct {
	Name string `json:"name"`
	Hue  uint32 `json:"hue"`
}

// CursorData is a user's cursor positions and selection ranges, given as
// Unicode scalar offsets into the document.
type CursorData struct {
	Cursors    []uint32    `json:"cursors"`
	Selections [][2]uint32 `json:"selections"`
}

// UserOperation pairs a historical operation with the id of the session
// that authored it.
type UserOperation struct {
	ID        uint64           `json:"id"`
	Operation *ot.OperationSeq `json:"operation"`
}

// ClientMsg is implemented by every client-to-server message. The marker
// method keeps arbitrary types from satisfying the interface by accident.
type ClientMsg interface {
	clientMsg()
}

// EditMsg submits a local edit against the client's last known revision.
type EditMsg struct {
	Revision  uint32           `json:"revision"`
	Operation *ot.OperationSeq `json:"operation"`
}

// SetLanguageMsg requests a document-wide language change.
type SetLanguageMsg struct {
	Language string `json:"language"`
}

// ClientInfoMsg announces (or updates) the sender's display identity.
type ClientInfoMsg struct {
	Name string `json:"name"`
	Hue  uint32 `json:"hue"`
}

// CursorDataMsg reports the sender's current cursor and selection state.
type CursorDataMsg struct {
	Cursors    []uint32    `json:"cursors"`
	Selections [][2]uint32 `json:"selections"`
}

func (EditMsg) clientMsg()        {}
func (SetLanguageMsg) clientMsg() {}
func (ClientInfoMsg) clientMsg()  {}
func (CursorDataMsg) clientMsg()  {}

// DecodeClientMsg parses one JSON frame into the concrete ClientMsg it
// names via its "type" discriminator. Any malformed JSON, unknown type,
// or out-of-range field is reported as an error, which always
// terminates the session with a protocol error.
func DecodeClientMsg(data []byte) (ClientMsg, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	switch probe.Type {
	case "edit":
		var m EditMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode edit: %w", err)
		}
		if m.Operation == nil {
			return nil, fmt.Errorf("edit: missing operation")
		}
		return m, nil

	case "setLanguage":
		var m SetLanguageMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode setLanguage: %w", err)
		}
		if !ValidLanguage(m.Language) {
			return nil, fmt.Errorf("setLanguage: unrecognized language %q", m.Language)
		}
		return m, nil

	case "clientInfo":
		var m ClientInfoMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode clientInfo: %w", err)
		}
		if len([]rune(m.Name)) > 64 {
			return nil, fmt.Errorf("clientInfo: name exceeds 64 scalars")
		}
		if m.Hue >= 360 {
			return nil, fmt.Errorf("clientInfo: hue %d out of range [0,360)", m.Hue)
		}
		return m, nil

	case "cursorData":
		var m CursorDataMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode cursorData: %w", err)
		}
		return m, nil

	case "":
		return nil, fmt.Errorf("missing \"type\" discriminator")

	default:
		return nil, fmt.Errorf("unknown message type %q", probe.Type)
	}
}

// ServerMsg is implemented by every server-to-client message. Each
// concrete type owns its own MarshalJSON so the wire form is a single
// flat JSON object carrying the "type" discriminator plus that
// message's fields — never a nested envelope.
type ServerMsg interface {
	json.Marshaler
	serverMsg()
}

// IdentityMsg tells a newly connected client its assigned session id.
type IdentityMsg struct {
	ID uint64
}

func (m IdentityMsg) serverMsg() {}
func (m IdentityMsg) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		ID   uint64 `json:"id"`
	}{"identity", m.ID})
}

// HistoryMsg delivers a contiguous run of committed operations starting
// at revision Start.
type HistoryMsg struct {
	Start      uint32
	Operations []UserOperation
}

func (m HistoryMsg) serverMsg() {}
func (m HistoryMsg) MarshalJSON() ([]byte, error) {
	ops := m.Operations
	if ops == nil {
		ops = []UserOperation{}
	}
	return json.Marshal(struct {
		Type       string          `json:"type"`
		Start      uint32          `json:"start"`
		Operations []UserOperation `json:"operations"`
	}{"history", m.Start, ops})
}

// LanguageMsg broadcasts the document's current language tag.
type LanguageMsg struct {
	Language string
}

func (m LanguageMsg) serverMsg() {}
func (m LanguageMsg) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Language string `json:"language"`
	}{"language", m.Language})
}

// UserInfoMsg announces a user's identity, or its removal when Info is
// nil (the field is still serialized, explicitly null).
type UserInfoMsg struct {
	ID   uint64
	Info *UserInfo
}

func (m UserInfoMsg) serverMsg() {}
func (m UserInfoMsg) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string    `json:"type"`
		ID   uint64    `json:"id"`
		Info *UserInfo `json:"info"`
	}{"userInfo", m.ID, m.Info})
}

// CursorDataServerMsg broadcasts a user's cursor/selection state.
type CursorDataServerMsg struct {
	ID   uint64
	Data CursorData
}

func (m CursorDataServerMsg) serverMsg() {}
func (m CursorDataServerMsg) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string     `json:"type"`
		ID   uint64     `json:"id"`
		Data CursorData `json:"data"`
	}{"cursorData", m.ID, m.Data})
}
