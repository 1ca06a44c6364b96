package engine

import "github.com/kolabpad/kolabpad/internal/protocol"

// Notification is implemented by every value delivered over a
// Subscription's channel.
type Notification interface {
	notification()
}

// HistoryChanged announces that the engine's revision advanced to
// Revision. The session fetches the history from the last revision it
// sent through the engine's current revision and forwards it as a
// HistoryMsg.
type HistoryChanged struct {
	Revision uint32
}

// LanguageChanged announces a new document-wide language tag.
type LanguageChanged struct {
	Language string
}

// UserListChanged announces a user joining, updating its identity, or
// leaving (Info nil) the connected-user table.
type UserListChanged struct {
	ID   uint64
	Info *protocol.UserInfo
}

// CursorChanged announces a user's cursor/selection update.
type CursorChanged struct {
	ID   uint64
	Data protocol.CursorData
}

// Resync tells a lagging subscriber to discard its incremental
// catch-up and re-fetch a full snapshot instead. Emitted in place of
// a HistoryChanged when a subscriber has fallen more than
// BacklogWindow revisions behind.
type Resync struct{}

// Killed is the terminal notification delivered exactly once to every
// live subscription when the engine transitions to Killed.
type Killed struct{}

func (HistoryChanged) notification()   {}
func (LanguageChanged) notification()  {}
func (UserListChanged) notification()  {}
func (CursorChanged) notification()    {}
func (Resync) notification()           {}
func (Killed) notification()           {}
