// Package session implements the Connection session: one instance per
// live transport connection, bridging a WebSocket to a document
// engine subscription.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/kolabpad/kolabpad/internal/engine"
	"github.com/kolabpad/kolabpad/internal/protocol"
	"github.com/kolabpad/kolabpad/pkg/logger"
	"github.com/kolabpad/kolabpad/pkg/ot"
)

const (
	identityWait     = 1 * time.Second
	readIdleTimeout  = 30 * time.Second
	writeTimeout     = 10 * time.Second
	rateBucketSize   = 50
	rateRefillPerSec = 50
	maxOpDelta       = 1 << 16
)

// Session is one connected client's view of a document: its assigned
// id, its inbound rate limiter, and the engine subscription its
// outbound loop drains.
type Session struct {
	id     uint64
	engine *engine.Engine
	conn   *websocket.Conn

	sendMu  sync.Mutex
	limiter *rate.Limiter

	localRevision uint32
}

// New wraps conn as a session against eng, assigning it id (process-
// unique, monotonically increasing — callers typically source this
// from a registry-wide atomic counter).
func New(eng *engine.Engine, id uint64, conn *websocket.Conn) *Session {
	return &Session{
		id:      id,
		engine:  eng,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(rateRefillPerSec), rateBucketSize),
	}
}

// Run drives the session to completion: identity handshake, initial
// state, then the inbound/outbound loops until either terminates.
// Always performs cleanup before returning.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.cleanup()

	pending, err := s.awaitIdentity(ctx)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	if err := s.sendInitialState(); err != nil {
		return fmt.Errorf("send initial state: %w", err)
	}

	sub := s.engine.Subscribe()
	defer sub.Close()

	errCh := make(chan error, 2)
	go func() { errCh <- s.inboundLoop(ctx, pending) }()
	go func() { errCh <- s.outboundLoop(ctx, sub) }()

	// Either sub-task terminating ends the session; cancel so the
	// other unblocks from its pending read or write promptly.
	err = <-errCh
	cancel()
	return err
}

// awaitIdentity waits up to identityWait for a clientInfo frame. If
// one arrives it is registered as the session's identity; any other
// message read within the window is returned as pending so it isn't
// lost to the steady-state inbound loop. If nothing arrives in time,
// a random name and hue are assigned. Any other read or decode error
// ends the session.
func (s *Session) awaitIdentity(ctx context.Context) (protocol.ClientMsg, error) {
	waitCtx, cancel := context.WithTimeout(ctx, identityWait)
	msg, err := s.readMessage(waitCtx)
	timedOut := waitCtx.Err() != nil
	cancel()

	if err != nil {
		if !timedOut {
			return nil, err
		}
		return nil, s.engine.SetIdentity(s.id, randomIdentity())
	}

	if ci, ok := msg.(protocol.ClientInfoMsg); ok {
		return nil, s.engine.SetIdentity(s.id, protocol.UserInfo{Name: ci.Name, Hue: ci.Hue})
	}

	if err := s.engine.SetIdentity(s.id, randomIdentity()); err != nil {
		return nil, err
	}
	return msg, nil
}

func randomIdentity() protocol.UserInfo {
	return protocol.UserInfo{
		Name: "guest-" + uuid.New().String()[:8],
		Hue:  uint32(rand.Intn(360)),
	}
}

// sendInitialState sends Identity, History{start:0}, Language,
// UserList and CursorList frames reflecting current engine state.
func (s *Session) sendInitialState() error {
	if err := s.send(protocol.IdentityMsg{ID: s.id}); err != nil {
		return err
	}

	snap := s.engine.Snapshot()
	ops := s.engine.GetHistory(0)
	if err := s.send(protocol.HistoryMsg{Start: 0, Operations: ops}); err != nil {
		return err
	}
	s.localRevision = uint32(len(ops))

	if err := s.send(protocol.LanguageMsg{Language: snap.Language}); err != nil {
		return err
	}

	for id, info := range s.engine.Users() {
		info := info
		if err := s.send(protocol.UserInfoMsg{ID: id, Info: &info}); err != nil {
			return err
		}
	}
	for id, data := range s.engine.Cursors() {
		if err := s.send(protocol.CursorDataServerMsg{ID: id, Data: data}); err != nil {
			return err
		}
	}
	return nil
}

// resync re-sends the full state from the current engine snapshot, in
// place of an incremental history catch-up.
func (s *Session) resync() error {
	snap := s.engine.Snapshot()
	ops := s.engine.GetHistory(0)
	if err := s.send(protocol.HistoryMsg{Start: 0, Operations: ops}); err != nil {
		return err
	}
	s.localRevision = uint32(len(ops))
	if err := s.send(protocol.LanguageMsg{Language: snap.Language}); err != nil {
		return err
	}
	for id, info := range s.engine.Users() {
		info := info
		if err := s.send(protocol.UserInfoMsg{ID: id, Info: &info}); err != nil {
			return err
		}
	}
	for id, data := range s.engine.Cursors() {
		if err := s.send(protocol.CursorDataServerMsg{ID: id, Data: data}); err != nil {
			return err
		}
	}
	return nil
}

// inboundLoop reads and dispatches client messages until the
// transport or engine terminates the session. first, if non-nil, is
// dispatched before reading anything further.
func (s *Session) inboundLoop(ctx context.Context, first protocol.ClientMsg) error {
	if first != nil {
		if err := s.dispatch(first); err != nil {
			return err
		}
	}

	for {
		readCtx, cancel := context.WithTimeout(ctx, readIdleTimeout)
		msg, err := s.readMessage(readCtx)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := s.dispatch(msg); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(msg protocol.ClientMsg) error {
	switch m := msg.(type) {
	case protocol.EditMsg:
		if !s.limiter.Allow() {
			return fmt.Errorf("rate limit exceeded")
		}
		if opTooLarge(m.Operation) {
			return fmt.Errorf("operation exceeds size cap")
		}
		if _, err := s.engine.Edit(s.id, m.Revision, m.Operation); err != nil {
			return fmt.Errorf("apply edit: %w", err)
		}
		return nil

	case protocol.SetLanguageMsg:
		return s.engine.SetLanguage(m.Language)

	case protocol.ClientInfoMsg:
		return s.engine.SetIdentity(s.id, protocol.UserInfo{Name: m.Name, Hue: m.Hue})

	case protocol.CursorDataMsg:
		return s.engine.SetCursors(s.id, protocol.CursorData{Cursors: m.Cursors, Selections: m.Selections})

	default:
		return fmt.Errorf("unhandled message type %T", msg)
	}
}

// opTooLarge rejects operations whose target grows far past their
// base, or that carry a single oversized Insert, before they ever
// reach the engine.
func opTooLarge(op *ot.OperationSeq) bool {
	if op.TargetLen() > op.BaseLen() && op.TargetLen()-op.BaseLen() > maxOpDelta {
		return true
	}
	for _, prim := range op.Ops() {
		if ins, ok := prim.(ot.Insert); ok && uint64(len([]rune(ins.Text))) > maxOpDelta {
			return true
		}
	}
	return false
}

func (s *Session) outboundLoop(ctx context.Context, sub *engine.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-sub.C():
			if !ok {
				return fmt.Errorf("subscription closed")
			}
			if err := s.handleNotification(sub, n); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handleNotification(sub *engine.Subscription, n engine.Notification) error {
	switch v := n.(type) {
	case engine.HistoryChanged:
		ops := s.engine.GetHistory(s.localRevision)
		if len(ops) > 0 {
			if err := s.send(protocol.HistoryMsg{Start: s.localRevision, Operations: ops}); err != nil {
				return err
			}
			s.localRevision += uint32(len(ops))
		}
		sub.Ack(s.localRevision)
		return nil

	case engine.Resync:
		if err := s.resync(); err != nil {
			return err
		}
		sub.Ack(s.localRevision)
		return nil

	case engine.LanguageChanged:
		return s.send(protocol.LanguageMsg{Language: v.Language})

	case engine.UserListChanged:
		return s.send(protocol.UserInfoMsg{ID: v.ID, Info: v.Info})

	case engine.CursorChanged:
		return s.send(protocol.CursorDataServerMsg{ID: v.ID, Data: v.Data})

	case engine.Killed:
		return fmt.Errorf("document killed")

	default:
		return fmt.Errorf("unhandled notification type %T", n)
	}
}

func (s *Session) readMessage(ctx context.Context) (protocol.ClientMsg, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeClientMsg(data)
}

func (s *Session) send(msg protocol.ServerMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *Session) cleanup() {
	logger.Debug("session %d: disconnecting", s.id)
	s.engine.DropSession(s.id)
}
