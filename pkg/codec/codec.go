// Package codec implements WARP's canonical binary encoding.
//
// The same sorted-key, length-prefixed encoding serializes patches,
// state, checkpoints, and sync bodies (spec.md §9, "codec symmetry").
// Content-address equality across peers depends on two encoders
// producing byte-identical output for logically identical values, so
// map keys are always sorted and every length is explicit — never
// delimiter-based — before encoding.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Hash is a hex-encoded content hash, stable across encoders as long as
// they encode with Encode below (spec.md §6, "State hash").
type Hash string

// HashBytes returns the content hash of raw bytes.
func HashBytes(b []byte) Hash {
	sum := blake2b.Sum256(b)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashValue canonically encodes v and returns its content hash.
func HashValue(v any) Hash {
	return HashBytes(Encode(v))
}

// Tag bytes identify the shape that follows. Kept to a single byte
// since WARP's value alphabet is small and fixed.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagUint
	tagFloat
	tagString
	tagBytes
	tagList
	tagMap
)

// Encode canonically serializes v. Supported shapes: nil, bool,
// int/int64, uint/uint64, float64, string, []byte, []any (ordered),
// map[string]any (sorted by key). Any other type is a programmer error
// and panics — callers build up values from this fixed alphabet rather
// than passing arbitrary structs through reflection, which would make
// the encoding dependent on field declaration order.
func Encode(v any) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v)
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v any) {
	switch x := v.(type) {
	case nil:
		buf.WriteByte(tagNil)
	case bool:
		buf.WriteByte(tagBool)
		if x {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int:
		encodeValue(buf, int64(x))
	case int64:
		buf.WriteByte(tagInt)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(x))
		buf.Write(tmp[:])
	case uint:
		encodeValue(buf, uint64(x))
	case uint64:
		buf.WriteByte(tagUint)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], x)
		buf.Write(tmp[:])
	case float64:
		buf.WriteByte(tagFloat)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(x))
		buf.Write(tmp[:])
	case string:
		buf.WriteByte(tagString)
		writeLenPrefixed(buf, []byte(x))
	case []byte:
		buf.WriteByte(tagBytes)
		writeLenPrefixed(buf, x)
	case []any:
		buf.WriteByte(tagList)
		writeUvarint(buf, uint64(len(x)))
		for _, item := range x {
			encodeValue(buf, item)
		}
	case []string:
		lst := make([]any, len(x))
		for i, s := range x {
			lst[i] = s
		}
		encodeValue(buf, lst)
	case map[string]any:
		buf.WriteByte(tagMap)
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeUvarint(buf, uint64(len(keys)))
		for _, k := range keys {
			writeLenPrefixed(buf, []byte(k))
			encodeValue(buf, x[k])
		}
	default:
		panic(fmt.Sprintf("codec: unsupported type %T", v))
	}
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func writeUvarint(buf *bytes.Buffer, n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(tmp[:], n)
	buf.Write(tmp[:l])
}
