// Package ot implements the operational-transformation primitives that
// back Kolabpad's document engine: a canonical Operation type plus the
// pure apply/compose/transform functions used to linearize concurrent
// edits against a shared revision log.
package ot

import (
	"errors"
	"fmt"
)

// Errors returned by the OT primitives. Callers in internal/engine map
// these onto the taxonomy in the system spec (protocol vs. OT-apply
// errors).
var (
	// ErrLengthMismatch is returned by Apply when the input string's rune
	// count does not equal the operation's base length.
	ErrLengthMismatch = errors.New("ot: string length does not match operation base length")
	// ErrBaseLenMismatch is returned by Transform when the two operations
	// do not share a base length.
	ErrBaseLenMismatch = errors.New("ot: operations have different base lengths")
	// ErrIncompatible is returned by Compose when a's target length does
	// not match b's base length.
	ErrIncompatible = errors.New("ot: operations are not composable")
)

// Retain advances N scalars of the base string unchanged.
type Retain struct{ N uint64 }

// Insert emits Text into the target string.
type Insert struct{ Text string }

// Delete consumes N scalars of the base string without emitting them.
type Delete struct{ N uint64 }

// Op is one primitive of an OperationSeq. It is implemented only by
// Retain, Insert, and Delete.
type Op interface {
	isOp()
}

func (Retain) isOp() {}
func (Insert) isOp() {}
func (Delete) isOp() {}

func runeLen(s string) uint64 {
	return uint64(len([]rune(s)))
}

// OperationSeq is a canonical, immutable-once-built sequence of Retain,
// Insert and Delete primitives transforming a base string of BaseLen()
// scalars into a target string of TargetLen() scalars.
//
// Canonical form (enforced by the builder methods): no empty primitives,
// no two adjacent primitives of the same kind, and Insert always precedes
// a Delete at the same position (required for deterministic Transform).
type OperationSeq struct {
	ops       []Op
	baseLen   uint64
	targetLen uint64
}

// NewOperationSeq returns an empty operation (identity on the empty string).
func NewOperationSeq() *OperationSeq {
	return &OperationSeq{}
}

// Ops returns the canonical primitives of the sequence. The slice must
// not be mutated by callers.
func (o *OperationSeq) Ops() []Op { return o.ops }

// BaseLen returns the Unicode scalar length of strings this operation
// can be applied to.
func (o *OperationSeq) BaseLen() uint64 { return o.baseLen }

// TargetLen returns the Unicode scalar length of strings this operation
// produces.
func (o *OperationSeq) TargetLen() uint64 { return o.targetLen }

// IsNoop reports whether the operation has no effect: either empty, or a
// single Retain spanning the whole base string.
func (o *OperationSeq) IsNoop() bool {
	switch len(o.ops) {
	case 0:
		return true
	case 1:
		_, ok := o.ops[0].(Retain)
		return ok
	default:
		return false
	}
}

// Retain appends a Retain(n) primitive, merging with a trailing Retain.
func (o *OperationSeq) Retain(n uint64) {
	if n == 0 {
		return
	}
	o.baseLen += n
	o.targetLen += n
	if last := len(o.ops) - 1; last >= 0 {
		if r, ok := o.ops[last].(Retain); ok {
			o.ops[last] = Retain{N: r.N + n}
			return
		}
	}
	o.ops = append(o.ops, Retain{N: n})
}

// Delete appends a Delete(n) primitive, merging with a trailing Delete.
func (o *OperationSeq) Delete(n uint64) {
	if n == 0 {
		return
	}
	o.baseLen += n
	if last := len(o.ops) - 1; last >= 0 {
		if d, ok := o.ops[last].(Delete); ok {
			o.ops[last] = Delete{N: d.N + n}
			return
		}
	}
	o.ops = append(o.ops, Delete{N: n})
}

// Insert appends an Insert(s) primitive, merging with a trailing Insert
// and reordering so Insert always precedes a trailing Delete.
func (o *OperationSeq) Insert(s string) {
	if s == "" {
		return
	}
	o.targetLen += runeLen(s)

	n := len(o.ops)
	switch {
	case n > 0:
		if ins, ok := o.ops[n-1].(Insert); ok {
			o.ops[n-1] = Insert{Text: ins.Text + s}
			return
		}
		if n > 1 {
			if ins, ok := o.ops[n-2].(Insert); ok {
				if _, isDel := o.ops[n-1].(Delete); isDel {
					o.ops[n-2] = Insert{Text: ins.Text + s}
					return
				}
			}
		}
		if del, ok := o.ops[n-1].(Delete); ok {
			o.ops[n-1] = Insert{Text: s}
			o.ops = append(o.ops, del)
			return
		}
	}
	o.ops = append(o.ops, Insert{Text: s})
}

// Equal reports structural equality of the canonical forms.
func (o *OperationSeq) Equal(other *OperationSeq) bool {
	if other == nil || len(o.ops) != len(other.ops) {
		return false
	}
	for i, op := range o.ops {
		switch v := op.(type) {
		case Retain:
			w, ok := other.ops[i].(Retain)
			if !ok || w.N != v.N {
				return false
			}
		case Delete:
			w, ok := other.ops[i].(Delete)
			if !ok || w.N != v.N {
				return false
			}
		case Insert:
			w, ok := other.ops[i].(Insert)
			if !ok || w.Text != v.Text {
				return false
			}
		}
	}
	return true
}

func (o *OperationSeq) String() string {
	return fmt.Sprintf("OperationSeq(base=%d, target=%d, ops=%d)", o.baseLen, o.targetLen, len(o.ops))
}
