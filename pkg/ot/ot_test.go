package ot

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func seq(ops ...Op) *OperationSeq {
	s := NewOperationSeq()
	for _, op := range ops {
		switch v := op.(type) {
		case Retain:
			s.Retain(v.N)
		case Insert:
			s.Insert(v.Text)
		case Delete:
			s.Delete(v.N)
		}
	}
	return s
}

func TestBuilderCoalescesAdjacentPrimitives(t *testing.T) {
	s := seq(Retain{2}, Retain{3}, Insert{"ab"}, Insert{"cd"})
	require.Len(t, s.Ops(), 2)
	require.Equal(t, Retain{5}, s.Ops()[0])
	require.Equal(t, Insert{"abcd"}, s.Ops()[1])
}

func TestBuilderSwapsInsertBeforeDelete(t *testing.T) {
	s := seq(Retain{1}, Delete{2}, Insert{"x"})
	require.Len(t, s.Ops(), 3)
	require.Equal(t, Retain{1}, s.Ops()[0])
	require.Equal(t, Insert{"x"}, s.Ops()[1])
	require.Equal(t, Delete{2}, s.Ops()[2])
}

func TestBuilderDropsEmptyPrimitives(t *testing.T) {
	s := seq(Retain{0}, Insert{""}, Delete{0}, Retain{3})
	require.Len(t, s.Ops(), 1)
	require.Equal(t, Retain{3}, s.Ops()[0])
}

func TestApplyLengths(t *testing.T) {
	op := seq(Retain{1}, Insert{"B"}, Retain{1})
	out, err := op.Apply("AC")
	require.NoError(t, err)
	require.Equal(t, "ABC", out)
	require.EqualValues(t, len([]rune(out)), op.TargetLen())
}

func TestApplyLengthMismatch(t *testing.T) {
	op := seq(Retain{2})
	_, err := op.Apply("abc")
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestApplyCountsUnicodeScalars(t *testing.T) {
	op := seq(Retain{3}, Insert{"!"})
	out, err := op.Apply("héy")
	require.NoError(t, err)
	require.Equal(t, "héy!", out)
}

func TestComposeEquivalence(t *testing.T) {
	s := "hello world"
	a := seq(Retain{5}, Insert{","}, Retain{6})
	b := seq(Retain{6}, Delete{1}, Retain{9})

	composed, err := a.Compose(b)
	require.NoError(t, err)

	viaCompose, err := composed.Apply(s)
	require.NoError(t, err)

	mid, err := a.Apply(s)
	require.NoError(t, err)
	viaSteps, err := b.Apply(mid)
	require.NoError(t, err)

	require.Equal(t, viaSteps, viaCompose)
}

// TestConcurrentInsertTieBreak covers doc "AC" at revision 1: C1 inserts
// "B" between A and C, C2 concurrently inserts "X" at the same
// position. C1 linearizes first, so the engine transforms C2's op
// against history[1] (C1's committed op) and C1's insertion must appear
// before C2's in the result.
func TestConcurrentInsertTieBreak(t *testing.T) {
	history := seq(Retain{1}, Insert{"B"}, Retain{1}) // committed first
	incoming := seq(Retain{1}, Insert{"X"}, Retain{1})

	_, bPrime, err := history.Transform(incoming)
	require.NoError(t, err)

	out, err := bPrime.Apply("ABC")
	require.NoError(t, err)
	require.Equal(t, "ABXC", out)
}

// TestDeleteVsConcurrentInsert covers an insert past the end of a
// range that a concurrent, already-committed delete removed: the insert
// is transformed against the delete and lands on the emptied text.
func TestDeleteVsConcurrentInsert(t *testing.T) {
	del := seq(Delete{5})
	ins := seq(Retain{5}, Insert{" world"})

	_, bPrime, err := del.Transform(ins)
	require.NoError(t, err)

	require.EqualValues(t, 0, bPrime.BaseLen())
	out, err := bPrime.Apply("")
	require.NoError(t, err)
	require.Equal(t, " world", out)
}

// TestTP1Convergence checks the TP1 algebraic law: for all a, b
// sharing a base length, apply(b', apply(a, s)) == apply(a', apply(b, s)).
func TestTP1Convergence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		s := randomString(rng, rng.Intn(12))
		a := randomOp(rng, s)
		b := randomOp(rng, s)

		aPrime, bPrime, err := a.Transform(b)
		require.NoError(t, err)

		left, err := a.Apply(s)
		require.NoError(t, err)
		left, err = bPrime.Apply(left)
		require.NoError(t, err)

		right, err := b.Apply(s)
		require.NoError(t, err)
		right, err = aPrime.Apply(right)
		require.NoError(t, err)

		require.Equal(t, left, right, "TP1 violated for base %q", s)
	}
}

func TestComposeMatchesSequentialApply(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		s := randomString(rng, rng.Intn(12))
		a := randomOp(rng, s)
		mid, err := a.Apply(s)
		require.NoError(t, err)
		b := randomOp(rng, mid)

		composed, err := a.Compose(b)
		require.NoError(t, err)

		want, err := b.Apply(mid)
		require.NoError(t, err)
		got, err := composed.Apply(s)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestCanonicalFormIdempotent(t *testing.T) {
	s := seq(Retain{1}, Retain{1}, Insert{"a"}, Insert{"b"}, Delete{1}, Delete{1})
	rebuilt := seq(s.Ops()...)
	require.True(t, s.Equal(rebuilt))
}

func randomString(rng *rand.Rand, n int) string {
	const alphabet = "abcdefghij"
	out := make([]rune, n)
	for i := range out {
		out[i] = rune(alphabet[rng.Intn(len(alphabet))])
	}
	return string(out)
}

// randomOp builds a random, valid operation over base string s by
// repeatedly choosing to retain, insert, or delete.
func randomOp(rng *rand.Rand, s string) *OperationSeq {
	runes := []rune(s)
	op := NewOperationSeq()
	i := 0
	for i < len(runes) {
		switch rng.Intn(3) {
		case 0:
			n := 1 + rng.Intn(len(runes)-i)
			op.Retain(uint64(n))
			i += n
		case 1:
			op.Insert(randomString(rng, 1+rng.Intn(3)))
		default:
			n := 1 + rng.Intn(len(runes)-i)
			op.Delete(uint64(n))
			i += n
		}
	}
	if rng.Intn(2) == 0 {
		op.Insert(randomString(rng, 1+rng.Intn(3)))
	}
	return op
}
