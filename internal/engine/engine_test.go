package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kolabpad/kolabpad/internal/protocol"
	"github.com/kolabpad/kolabpad/pkg/ot"
)

func insertOp(baseLen int, text string) *ot.OperationSeq {
	op := ot.NewOperationSeq()
	if baseLen > 0 {
		op.Retain(uint64(baseLen))
	}
	op.Insert(text)
	return op
}

func TestNewEngineIsEmpty(t *testing.T) {
	e := New()
	require.Equal(t, "", e.Text())
	require.EqualValues(t, 0, e.Revision())
	require.False(t, e.Killed())
}

func TestFromSnapshotSeedsHistory(t *testing.T) {
	e := FromSnapshot("hello", "go")
	require.Equal(t, "hello", e.Text())
	require.Equal(t, "go", e.Snapshot().Language)
	require.EqualValues(t, 1, e.Revision())

	hist := e.GetHistory(0)
	require.Len(t, hist, 1)
	require.Equal(t, protocol.SystemUserID, hist[0].ID)
}

func TestFromSnapshotEmptyTextNoHistory(t *testing.T) {
	e := FromSnapshot("", "plaintext")
	require.EqualValues(t, 0, e.Revision())
}

func TestEditAppliesAndAdvancesRevision(t *testing.T) {
	e := New()
	rev, err := e.Edit(1, 0, insertOp(0, "hi"))
	require.NoError(t, err)
	require.EqualValues(t, 1, rev)
	require.Equal(t, "hi", e.Text())
}

func TestEditRejectsFutureRevision(t *testing.T) {
	e := New()
	_, err := e.Edit(1, 5, insertOp(0, "x"))
	require.ErrorIs(t, err, ErrFutureRevision)
}

func TestEditRejectsBadBaseLength(t *testing.T) {
	e := New()
	_, err := e.Edit(1, 0, insertOp(3, "x")) // retains 3 against empty doc
	require.ErrorIs(t, err, ErrOperationApply)
}

// TestEditTransformsAgainstHistory covers two sessions submitting
// concurrent inserts against the same base revision: the
// earlier-linearized one wins the tie-break and ends up first in the
// resulting text.
func TestEditTransformsAgainstHistory(t *testing.T) {
	e := New()
	_, err := e.Edit(protocol.SystemUserID, 0, insertOp(0, "AC"))
	require.NoError(t, err)
	require.EqualValues(t, 1, e.Revision())

	c1 := insertOp(1, "B") // "A" + "B" + retain "C"
	c1.Retain(1)
	rev, err := e.Edit(1, 1, c1)
	require.NoError(t, err)
	require.EqualValues(t, 2, rev)
	require.Equal(t, "ABC", e.Text())

	c2 := insertOp(1, "X")
	c2.Retain(1)
	rev, err = e.Edit(2, 1, c2) // still base revision 1, concurrent with c1
	require.NoError(t, err)
	require.EqualValues(t, 3, rev)
	require.Equal(t, "ABXC", e.Text())
}

func TestEditKillsEngineAtHistoryCap(t *testing.T) {
	e := New()
	for i := 0; i < MaxHistory; i++ {
		_, err := e.Edit(1, uint32(i), insertOp(i, "a"))
		require.NoError(t, err)
	}
	require.False(t, e.Killed())

	_, err := e.Edit(1, MaxHistory, insertOp(MaxHistory, "b"))
	require.ErrorIs(t, err, ErrHistoryFull)
	require.True(t, e.Killed())
}

func TestEditOnKilledEngineFails(t *testing.T) {
	e := New()
	e.Kill()
	_, err := e.Edit(1, 0, insertOp(0, "x"))
	require.ErrorIs(t, err, ErrDocumentKilled)
}

func TestSetLanguageValidatesAndPublishes(t *testing.T) {
	e := New()
	sub := e.Subscribe()
	defer sub.Close()

	require.NoError(t, e.SetLanguage("go"))
	require.Equal(t, "go", e.Snapshot().Language)

	select {
	case n := <-sub.C():
		require.Equal(t, LanguageChanged{Language: "go"}, n)
	case <-time.After(time.Second):
		t.Fatal("expected LanguageChanged notification")
	}
}

func TestSetLanguageRejectsUnknown(t *testing.T) {
	e := New()
	err := e.SetLanguage("not-a-real-language")
	require.ErrorIs(t, err, ErrUnknownLanguage)
}

func TestSetIdentityAndDropSession(t *testing.T) {
	e := New()
	sub := e.Subscribe()
	defer sub.Close()

	info := protocol.UserInfo{Name: "ada", Hue: 42}
	require.NoError(t, e.SetIdentity(7, info))
	require.Equal(t, info, e.Users()[7])

	select {
	case n := <-sub.C():
		uc, ok := n.(UserListChanged)
		require.True(t, ok)
		require.EqualValues(t, 7, uc.ID)
		require.Equal(t, &info, uc.Info)
	case <-time.After(time.Second):
		t.Fatal("expected UserListChanged notification")
	}

	e.DropSession(7)
	_, stillPresent := e.Users()[7]
	require.False(t, stillPresent)

	select {
	case n := <-sub.C():
		uc, ok := n.(UserListChanged)
		require.True(t, ok)
		require.EqualValues(t, 7, uc.ID)
		require.Nil(t, uc.Info)
	case <-time.After(time.Second):
		t.Fatal("expected departure UserListChanged notification")
	}
}

func TestSetCursorsRetargetedByLaterEdits(t *testing.T) {
	e := New()
	_, err := e.Edit(1, 0, insertOp(0, "hello"))
	require.NoError(t, err)

	require.NoError(t, e.SetCursors(2, protocol.CursorData{Cursors: []uint32{5}}))

	op := insertOp(0, "X")
	op.Retain(5)
	_, err = e.Edit(1, 1, op)
	require.NoError(t, err)

	require.Equal(t, uint32(6), e.Cursors()[2].Cursors[0])
}

func TestSubscribeBacklogCollapsesToResync(t *testing.T) {
	e := New()
	sub := e.Subscribe()
	defer sub.Close()

	for i := 0; i < BacklogWindow+5; i++ {
		_, err := e.Edit(1, uint32(i), insertOp(i, "a"))
		require.NoError(t, err)
	}

	var last Notification
	for {
		select {
		case n := <-sub.C():
			last = n
		default:
			goto done
		}
	}
done:
	require.IsType(t, Resync{}, last)
}

func TestKillNotifiesSubscribersAndClosesChannel(t *testing.T) {
	e := New()
	sub := e.Subscribe()
	e.Kill()

	select {
	case n, ok := <-sub.C():
		require.True(t, ok)
		require.Equal(t, Killed{}, n)
	case <-time.After(time.Second):
		t.Fatal("expected Killed notification")
	}

	_, ok := <-sub.C()
	require.False(t, ok, "channel should be closed after Kill")
}

func TestKillIsIdempotent(t *testing.T) {
	e := New()
	e.Kill()
	require.NotPanics(t, func() { e.Kill() })
}

func TestGetHistoryRange(t *testing.T) {
	e := New()
	_, err := e.Edit(1, 0, insertOp(0, "a"))
	require.NoError(t, err)
	_, err = e.Edit(1, 1, insertOp(1, "b"))
	require.NoError(t, err)

	require.Len(t, e.GetHistory(0), 2)
	require.Len(t, e.GetHistory(1), 1)
	require.Len(t, e.GetHistory(2), 0)
	require.Len(t, e.GetHistory(99), 0)
}
