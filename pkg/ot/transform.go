package ot

// Apply runs the operation over s, which must contain exactly BaseLen()
// Unicode scalars, and returns a string of TargetLen() scalars.
func (o *OperationSeq) Apply(s string) (string, error) {
	runes := []rune(s)
	if uint64(len(runes)) != o.baseLen {
		return "", ErrLengthMismatch
	}

	var out []rune
	var pos uint64
	for _, op := range o.ops {
		switch v := op.(type) {
		case Retain:
			out = append(out, runes[pos:pos+v.N]...)
			pos += v.N
		case Insert:
			out = append(out, []rune(v.Text)...)
		case Delete:
			pos += v.N
		}
	}
	return string(out), nil
}

// TransformIndex maps a cursor position in the base string to its
// position in the target string after applying the operation. Positions
// inside a deleted span collapse to the start of the deletion.
func TransformIndex(o *OperationSeq, position uint32) uint32 {
	index := int64(position)
	newIndex := index

	for _, op := range o.ops {
		switch v := op.(type) {
		case Retain:
			index -= int64(v.N)
		case Insert:
			newIndex += int64(runeLen(v.Text))
		case Delete:
			if index >= int64(v.N) {
				newIndex -= int64(v.N)
			} else if index > 0 {
				newIndex -= index
			}
			index -= int64(v.N)
		}
		if index < 0 {
			break
		}
	}

	if newIndex < 0 {
		return 0
	}
	return uint32(newIndex)
}

// opCursor hands out an operation's primitives one at a time. Compose
// and Transform split longer primitives themselves, keeping the
// unconsumed remainder, so the two inputs advance in lockstep.
type opCursor struct {
	ops []Op
	idx int
}

func (c *opCursor) next() (Op, bool) {
	if c.idx >= len(c.ops) {
		return nil, false
	}
	op := c.ops[c.idx]
	c.idx++
	return op, true
}

// Compose returns the operation c such that for all s of length
// o.BaseLen(), Apply(c, s) == Apply(b, Apply(o, s)).
func (o *OperationSeq) Compose(b *OperationSeq) (*OperationSeq, error) {
	if o.targetLen != b.baseLen {
		return nil, ErrIncompatible
	}

	result := NewOperationSeq()
	ac := &opCursor{ops: o.ops}
	bc := &opCursor{ops: b.ops}

	var aOp, bOp Op
	var aOk, bOk bool

	for {
		if aOp == nil {
			aOp, aOk = ac.next()
		}
		if bOp == nil {
			bOp, bOk = bc.next()
		}
		if !aOk && aOp == nil && !bOk && bOp == nil {
			break
		}

		switch {
		case aOp != nil && isDelete(aOp):
			result.Delete(aOp.(Delete).N)
			aOp = nil
		case bOp != nil && isInsert(bOp):
			result.Insert(bOp.(Insert).Text)
			bOp = nil
		case aOp == nil || bOp == nil:
			return nil, ErrIncompatible
		case isRetain(aOp) && isRetain(bOp):
			ar, br := aOp.(Retain).N, bOp.(Retain).N
			switch {
			case ar > br:
				result.Retain(br)
				aOp = Retain{N: ar - br}
				bOp = nil
			case ar == br:
				result.Retain(ar)
				aOp, bOp = nil, nil
			default:
				result.Retain(ar)
				bOp = Retain{N: br - ar}
				aOp = nil
			}
		case isInsert(aOp) && isDelete(bOp):
			it := []rune(aOp.(Insert).Text)
			dn := bOp.(Delete).N
			switch {
			case uint64(len(it)) > dn:
				aOp = Insert{Text: string(it[dn:])}
				bOp = nil
			case uint64(len(it)) == dn:
				aOp, bOp = nil, nil
			default:
				bOp = Delete{N: dn - uint64(len(it))}
				aOp = nil
			}
		case isInsert(aOp) && isRetain(bOp):
			it := []rune(aOp.(Insert).Text)
			rn := bOp.(Retain).N
			switch {
			case uint64(len(it)) > rn:
				result.Insert(string(it[:rn]))
				aOp = Insert{Text: string(it[rn:])}
				bOp = nil
			case uint64(len(it)) == rn:
				result.Insert(string(it))
				aOp, bOp = nil, nil
			default:
				result.Insert(string(it))
				bOp = Retain{N: rn - uint64(len(it))}
				aOp = nil
			}
		case isRetain(aOp) && isDelete(bOp):
			rn := aOp.(Retain).N
			dn := bOp.(Delete).N
			switch {
			case rn > dn:
				result.Delete(dn)
				aOp = Retain{N: rn - dn}
				bOp = nil
			case rn == dn:
				result.Delete(dn)
				aOp, bOp = nil, nil
			default:
				result.Delete(rn)
				bOp = Delete{N: dn - rn}
				aOp = nil
			}
		default:
			return nil, ErrIncompatible
		}
	}

	return result, nil
}

// Transform returns (a', b') such that Compose(o, b') == Compose(b, a').
// When both operations insert at the same offset, o's (the first
// argument's) insertion is ordered before b's in the converged result:
// o's text is emitted immediately into a', while b' retains past it.
func (o *OperationSeq) Transform(b *OperationSeq) (*OperationSeq, *OperationSeq, error) {
	if o.baseLen != b.baseLen {
		return nil, nil, ErrBaseLenMismatch
	}

	aPrime := NewOperationSeq()
	bPrime := NewOperationSeq()
	ac := &opCursor{ops: o.ops}
	bc := &opCursor{ops: b.ops}

	var aOp, bOp Op
	var aOk, bOk bool

	for {
		if aOp == nil {
			aOp, aOk = ac.next()
		}
		if bOp == nil {
			bOp, bOk = bc.next()
		}
		if !aOk && aOp == nil && !bOk && bOp == nil {
			break
		}

		switch {
		case aOp != nil && isInsert(aOp):
			text := aOp.(Insert).Text
			aPrime.Insert(text)
			bPrime.Retain(runeLen(text))
			aOp = nil
		case bOp != nil && isInsert(bOp):
			text := bOp.(Insert).Text
			aPrime.Retain(runeLen(text))
			bPrime.Insert(text)
			bOp = nil
		case aOp == nil || bOp == nil:
			return nil, nil, ErrBaseLenMismatch
		case isRetain(aOp) && isRetain(bOp):
			ar, br := aOp.(Retain).N, bOp.(Retain).N
			switch {
			case ar > br:
				aPrime.Retain(br)
				bPrime.Retain(br)
				aOp = Retain{N: ar - br}
				bOp = nil
			case ar == br:
				aPrime.Retain(ar)
				bPrime.Retain(ar)
				aOp, bOp = nil, nil
			default:
				aPrime.Retain(ar)
				bPrime.Retain(ar)
				bOp = Retain{N: br - ar}
				aOp = nil
			}
		case isDelete(aOp) && isDelete(bOp):
			an, bn := aOp.(Delete).N, bOp.(Delete).N
			switch {
			case an > bn:
				aOp = Delete{N: an - bn}
				bOp = nil
			case an == bn:
				aOp, bOp = nil, nil
			default:
				bOp = Delete{N: bn - an}
				aOp = nil
			}
		case isDelete(aOp) && isRetain(bOp):
			an, br := aOp.(Delete).N, bOp.(Retain).N
			switch {
			case an > br:
				aPrime.Delete(br)
				aOp = Delete{N: an - br}
				bOp = nil
			case an == br:
				aPrime.Delete(an)
				aOp, bOp = nil, nil
			default:
				aPrime.Delete(an)
				bOp = Retain{N: br - an}
				aOp = nil
			}
		case isRetain(aOp) && isDelete(bOp):
			ar, bn := aOp.(Retain).N, bOp.(Delete).N
			switch {
			case ar > bn:
				bPrime.Delete(bn)
				aOp = Retain{N: ar - bn}
				bOp = nil
			case ar == bn:
				bPrime.Delete(bn)
				aOp, bOp = nil, nil
			default:
				bPrime.Delete(ar)
				bOp = Delete{N: bn - ar}
				aOp = nil
			}
		default:
			return nil, nil, ErrBaseLenMismatch
		}
	}

	return aPrime, bPrime, nil
}

func isRetain(op Op) bool { _, ok := op.(Retain); return ok }
func isInsert(op Op) bool { _, ok := op.(Insert); return ok }
func isDelete(op Op) bool { _, ok := op.(Delete); return ok }
