// Package engine implements the per-document OT engine: the revision
// log, the transform-against-history protocol, and the notification
// fan-out that Connection sessions subscribe to.
//
// One Engine exists per live document id. All mutations are
// serialized on a single mutex; reads of revision and text take a
// brief read lock, so readers do not block one another.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolabpad/kolabpad/internal/protocol"
	"github.com/kolabpad/kolabpad/pkg/logger"
	"github.com/kolabpad/kolabpad/pkg/ot"
)

// MaxHistory is the hard cap on the number of operations an engine
// will retain. An edit submitted once the history holds MaxHistory
// operations is refused with ErrHistoryFull and kills the engine.
const MaxHistory = 10_000

// BacklogWindow is how many revisions behind a subscriber may fall
// before it is sent a synthesized Resync instead of individual
// history entries.
const BacklogWindow = 64

// DefaultMaxDocumentRunes bounds TargetLen() of any operation the
// engine will accept, independent of MaxHistory.
const DefaultMaxDocumentRunes = 10_000_000

// DocumentSnapshot is the cheap, consistent read returned by
// Snapshot(), and the persistable form written by the registry's
// snapshot publisher.
type DocumentSnapshot struct {
	Text     string
	Language string
	Revision uint32
}

type subscriberEntry struct {
	ch       chan Notification
	lastSeen uint32
	// resyncing is set once a subscriber has fallen more than
	// BacklogWindow revisions behind and been sent a Resync in its
	// place. While set, further history notifications are suppressed
	// — the eventual Resync consumption re-reads history from the
	// engine's current state, so queuing more in the meantime is only
	// wasted work. Cleared by Ack once the subscriber catches up.
	resyncing bool
}

// Engine is the per-document OT core: text buffer, revision-indexed
// operation log, connected-user table, cursor table, and the
// subscription fan-out that lets Connection sessions observe changes.
type Engine struct {
	mu sync.RWMutex

	text     string
	language string
	history  []protocol.UserOperation
	users    map[uint64]protocol.UserInfo
	cursors  map[uint64]protocol.CursorData

	subs   map[uint64]*subscriberEntry
	nextID uint64

	killed       atomic.Bool
	lastActivity atomic.Int64

	maxDocumentRunes int
}

// New creates an empty engine. FromSnapshot should be used instead
// when restoring a previously persisted document.
func New() *Engine {
	e := &Engine{
		language:         "plaintext",
		history:          make([]protocol.UserOperation, 0),
		users:            make(map[uint64]protocol.UserInfo),
		cursors:          make(map[uint64]protocol.CursorData),
		subs:             make(map[uint64]*subscriberEntry),
		maxDocumentRunes: DefaultMaxDocumentRunes,
	}
	e.lastActivity.Store(time.Now().Unix())
	return e
}

// FromSnapshot reconstructs an engine from persisted text and
// language, seeding history with a single system-authored insert so
// GetHistory(0) still reconstructs the full document.
func FromSnapshot(text, language string) *Engine {
	e := New()
	if language != "" {
		e.language = language
	}
	if text != "" {
		op := ot.NewOperationSeq()
		op.Insert(text)
		e.text = text
		e.history = append(e.history, protocol.UserOperation{
			ID:        protocol.SystemUserID,
			Operation: op,
		})
	}
	return e
}

// Revision returns the current revision number R.
func (e *Engine) Revision() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return uint32(len(e.history))
}

// Text returns the current document text.
func (e *Engine) Text() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.text
}

// Snapshot returns a cheap, consistent read of text, language and
// revision.
func (e *Engine) Snapshot() DocumentSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return DocumentSnapshot{Text: e.text, Language: e.language, Revision: uint32(len(e.history))}
}

// LastActivity reports when the engine last accepted an edit or
// language change. The registry's idle eviction does not consult it;
// it goes by the last Open of the document.
func (e *Engine) LastActivity() time.Time {
	return time.Unix(e.lastActivity.Load(), 0)
}

// Users returns a copy of the connected-user table.
func (e *Engine) Users() map[uint64]protocol.UserInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[uint64]protocol.UserInfo, len(e.users))
	for id, info := range e.users {
		out[id] = info
	}
	return out
}

// Cursors returns a copy of the cursor table.
func (e *Engine) Cursors() map[uint64]protocol.CursorData {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[uint64]protocol.CursorData, len(e.cursors))
	for id, data := range e.cursors {
		out[id] = data
	}
	return out
}

// GetHistory returns operations from revision start through the
// current revision. Returns an empty slice if start is at or past the
// current revision.
func (e *Engine) GetHistory(start uint32) []protocol.UserOperation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if int(start) >= len(e.history) {
		return []protocol.UserOperation{}
	}
	out := make([]protocol.UserOperation, len(e.history)-int(start))
	copy(out, e.history[start:])
	return out
}

// Killed reports whether the engine has transitioned out of Active.
func (e *Engine) Killed() bool {
	return e.killed.Load()
}

// Kill transitions the engine to Killed, waking every live
// subscription with a terminal Killed notification. Idempotent.
func (e *Engine) Kill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killAndNotifyLocked()
}

// Subscription is a handle returned by Subscribe. Notifications are
// delivered in order over C(); Close releases the subscription.
type Subscription struct {
	id     uint64
	ch     chan Notification
	engine *Engine
}

// C returns the channel notifications are delivered on.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if sub, ok := s.engine.subs[s.id]; ok {
		close(sub.ch)
		delete(s.engine.subs, s.id)
	}
}

// Ack reports that the subscriber has consumed notifications up to
// revision, clearing any pending-resync state. The engine otherwise
// has no visibility into what a subscriber has actually drained from
// its channel, so lastSeen only ever advances here.
func (s *Subscription) Ack(revision uint32) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if sub, ok := s.engine.subs[s.id]; ok {
		sub.lastSeen = revision
		sub.resyncing = false
	}
}

// Subscribe returns a handle that delivers, in order, every
// notification emitted after subscription.
func (e *Engine) Subscribe() *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	sub := &subscriberEntry{
		ch:       make(chan Notification, BacklogWindow),
		lastSeen: uint32(len(e.history)),
	}
	e.subs[id] = sub
	return &Subscription{id: id, ch: sub.ch, engine: e}
}

// trySend is a non-blocking send: the engine's critical section must
// never suspend waiting on a slow subscriber.
func trySend(ch chan Notification, n Notification) {
	select {
	case ch <- n:
	default:
	}
}

// drain empties ch without blocking, used before collapsing a
// lagging subscriber onto a single Resync.
func drain(ch chan Notification) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// publishHistory notifies every subscriber of the new revision,
// collapsing a subscriber onto a single Resync once it falls more than
// BacklogWindow revisions behind its last Ack. lastSeen is deliberately
// left untouched here — it only moves forward when the subscriber Acks
// having actually consumed a notification — so a subscriber that never
// drains its channel keeps measuring its real backlog against the
// revision it was last caught up to, instead of the revision last
// published. Must be called with e.mu held.
func (e *Engine) publishHistory(revision uint32) {
	for _, sub := range e.subs {
		if sub.resyncing {
			continue
		}
		if revision-sub.lastSeen > BacklogWindow {
			drain(sub.ch)
			trySend(sub.ch, Resync{})
			sub.resyncing = true
			continue
		}
		trySend(sub.ch, HistoryChanged{Revision: revision})
	}
}

func (e *Engine) publish(n Notification) {
	for _, sub := range e.subs {
		trySend(sub.ch, n)
	}
}

// Edit applies operation, submitted by author against the document as
// of baseRevision, transforming it against every intervening
// historical operation, and appends the result to the history.
func (e *Engine) Edit(author uint64, baseRevision uint32, operation *ot.OperationSeq) (uint32, error) {
	if e.killed.Load() {
		return 0, ErrDocumentKilled
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := uint32(len(e.history))
	logger.Debug("engine: edit author=%d base=%d current=%d op(base=%d,target=%d) textLen=%d",
		author, baseRevision, current, operation.BaseLen(), operation.TargetLen(), len([]rune(e.text)))

	if baseRevision > current {
		return 0, ErrFutureRevision
	}

	// Each historical op already committed takes priority: transform
	// it as the first argument so its insertions are ordered before
	// the submission's, per the canonical tie-break.
	transformed := operation
	for _, histOp := range e.history[baseRevision:] {
		_, bPrime, err := histOp.Operation.Transform(transformed)
		if err != nil {
			return 0, ErrInvalidBaseLength
		}
		transformed = bPrime
	}

	if int(transformed.TargetLen()) > e.maxDocumentRunes {
		return 0, ErrOperationApply
	}

	// When baseRevision == current there is no history to transform
	// against, so a bad base length never trips the ErrInvalidBaseLength
	// check above; it only surfaces here, as an ErrOperationApply from
	// the length mismatch inside Apply.
	newText, err := transformed.Apply(e.text)
	if err != nil {
		return 0, ErrOperationApply
	}

	if current == MaxHistory {
		e.killAndNotifyLocked()
		return 0, ErrHistoryFull
	}

	for id, cur := range e.cursors {
		newCursors := make([]uint32, len(cur.Cursors))
		for i, c := range cur.Cursors {
			newCursors[i] = ot.TransformIndex(transformed, c)
		}
		newSelections := make([][2]uint32, len(cur.Selections))
		for i, sel := range cur.Selections {
			newSelections[i] = [2]uint32{
				ot.TransformIndex(transformed, sel[0]),
				ot.TransformIndex(transformed, sel[1]),
			}
		}
		e.cursors[id] = protocol.CursorData{Cursors: newCursors, Selections: newSelections}
	}

	e.history = append(e.history, protocol.UserOperation{ID: author, Operation: transformed})
	e.text = newText
	e.lastActivity.Store(time.Now().Unix())

	newRevision := uint32(len(e.history))
	e.publishHistory(newRevision)
	return newRevision, nil
}

// SetLanguage validates lang against the recognized set and replaces
// the document's language tag.
func (e *Engine) SetLanguage(lang string) error {
	if e.killed.Load() {
		return ErrDocumentKilled
	}
	if !protocol.ValidLanguage(lang) {
		return ErrUnknownLanguage
	}

	e.mu.Lock()
	e.language = lang
	e.lastActivity.Store(time.Now().Unix())
	e.publish(LanguageChanged{Language: lang})
	e.mu.Unlock()
	return nil
}

// SetIdentity records or updates a session's display identity.
func (e *Engine) SetIdentity(sessionID uint64, info protocol.UserInfo) error {
	if e.killed.Load() {
		return ErrDocumentKilled
	}
	e.mu.Lock()
	e.users[sessionID] = info
	e.publish(UserListChanged{ID: sessionID, Info: &info})
	e.mu.Unlock()
	return nil
}

// SetCursors records a session's cursor and selection state.
func (e *Engine) SetCursors(sessionID uint64, data protocol.CursorData) error {
	if e.killed.Load() {
		return ErrDocumentKilled
	}
	e.mu.Lock()
	e.cursors[sessionID] = data
	e.publish(CursorChanged{ID: sessionID, Data: data})
	e.mu.Unlock()
	return nil
}

// DropSession removes a session's entries from the user and cursor
// tables and announces its departure. Safe to call even if the
// session never sent an identity or cursor update.
func (e *Engine) DropSession(sessionID uint64) {
	e.mu.Lock()
	delete(e.users, sessionID)
	delete(e.cursors, sessionID)
	e.publish(UserListChanged{ID: sessionID, Info: nil})
	e.mu.Unlock()
}

// killAndNotifyLocked marks the engine killed and wakes every
// subscriber. Caller must hold e.mu.
func (e *Engine) killAndNotifyLocked() {
	if !e.killed.CompareAndSwap(false, true) {
		return
	}
	for _, sub := range e.subs {
		select {
		case sub.ch <- Killed{}:
		default:
			// Buffer full: discard the pending backlog so the terminal
			// notification still gets through.
			drain(sub.ch)
			sub.ch <- Killed{}
		}
		close(sub.ch)
	}
	e.subs = make(map[uint64]*subscriberEntry)
}
