package ot

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes the operation as the wire form: a JSON array whose
// elements are a positive integer (Retain N), a negative integer
// (Delete N), or a string (Insert S).
func (o *OperationSeq) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	elems := make([]interface{}, 0, len(o.ops))
	for _, op := range o.ops {
		switch v := op.(type) {
		case Retain:
			elems = append(elems, v.N)
		case Delete:
			elems = append(elems, -int64(v.N))
		case Insert:
			elems = append(elems, v.Text)
		}
	}
	return json.Marshal(elems)
}

// UnmarshalJSON decodes the wire form described by MarshalJSON, rebuilding
// canonical form through the same builder methods used by construction.
func (o *OperationSeq) UnmarshalJSON(data []byte) error {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return fmt.Errorf("ot: decode operation: %w", err)
	}

	result := NewOperationSeq()
	for _, raw := range elems {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			result.Insert(s)
			continue
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("ot: operation element %s is neither string nor integer", raw)
		}
		switch {
		case n > 0:
			result.Retain(uint64(n))
		case n < 0:
			result.Delete(uint64(-n))
		default:
			return fmt.Errorf("ot: operation element must not be zero")
		}
	}

	*o = *result
	return nil
}
