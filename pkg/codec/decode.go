package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decode parses bytes produced by Encode back into the generic value
// tree (nil, bool, int64, uint64, float64, string, []byte, []any,
// map[string]any). Callers convert the generic tree into their typed
// shape (see pkg/patch, pkg/gstate, pkg/checkpoint) since WARP has no
// use for reflection-based struct tags.
func Decode(b []byte) (any, error) {
	v, rest, err := decodeValue(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("codec: %d trailing bytes after decode", len(rest))
	}
	return v, nil
}

func decodeValue(b []byte) (any, []byte, error) {
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("codec: unexpected end of input")
	}
	tag, b := b[0], b[1:]
	switch tag {
	case tagNil:
		return nil, b, nil
	case tagBool:
		if len(b) < 1 {
			return nil, nil, fmt.Errorf("codec: truncated bool")
		}
		return b[0] != 0, b[1:], nil
	case tagInt:
		if len(b) < 8 {
			return nil, nil, fmt.Errorf("codec: truncated int")
		}
		return int64(binary.BigEndian.Uint64(b[:8])), b[8:], nil
	case tagUint:
		if len(b) < 8 {
			return nil, nil, fmt.Errorf("codec: truncated uint")
		}
		return binary.BigEndian.Uint64(b[:8]), b[8:], nil
	case tagFloat:
		if len(b) < 8 {
			return nil, nil, fmt.Errorf("codec: truncated float")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[:8])), b[8:], nil
	case tagString:
		raw, rest, err := readLenPrefixed(b)
		if err != nil {
			return nil, nil, err
		}
		return string(raw), rest, nil
	case tagBytes:
		return readLenPrefixed(b)
	case tagList:
		n, rest, err := readUvarint(b)
		if err != nil {
			return nil, nil, err
		}
		out := make([]any, 0, n)
		for i := uint64(0); i < n; i++ {
			var item any
			item, rest, err = decodeValue(rest)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, item)
		}
		return out, rest, nil
	case tagMap:
		n, rest, err := readUvarint(b)
		if err != nil {
			return nil, nil, err
		}
		out := make(map[string]any, n)
		for i := uint64(0); i < n; i++ {
			var key []byte
			key, rest, err = readLenPrefixed(rest)
			if err != nil {
				return nil, nil, err
			}
			var val any
			val, rest, err = decodeValue(rest)
			if err != nil {
				return nil, nil, err
			}
			out[string(key)] = val
		}
		return out, rest, nil
	default:
		return nil, nil, fmt.Errorf("codec: unknown tag %d", tag)
	}
}

func readLenPrefixed(b []byte) ([]byte, []byte, error) {
	n, rest, err := readUvarint(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, fmt.Errorf("codec: truncated length-prefixed value")
	}
	return rest[:n], rest[n:], nil
}

func readUvarint(b []byte) (uint64, []byte, error) {
	n, l := binary.Uvarint(b)
	if l <= 0 {
		return 0, nil, fmt.Errorf("codec: malformed varint")
	}
	return n, b[l:], nil
}
