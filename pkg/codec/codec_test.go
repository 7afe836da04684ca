package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripsScalars(t *testing.T) {
	cases := []any{
		nil,
		true,
		false,
		int64(-42),
		uint64(42),
		3.5,
		"hello",
		[]byte("raw"),
	}
	for _, v := range cases {
		decoded, err := Decode(Encode(v))
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	}
}

func TestEncodeNormalizesIntAndUintToFixedWidth(t *testing.T) {
	decoded, err := Decode(Encode(int(7)))
	require.NoError(t, err)
	assert.Equal(t, int64(7), decoded)

	decoded, err = Decode(Encode(uint(7)))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), decoded)
}

func TestEncodeListRoundTrips(t *testing.T) {
	v := []any{"a", int64(1), true}
	decoded, err := Decode(Encode(v))
	require.NoError(t, err)
	assert.Equal(t, v, decoded)
}

func TestEncodeStringSliceBecomesList(t *testing.T) {
	decoded, err := Decode(Encode([]string{"a", "b"}))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, decoded)
}

func TestEncodeMapSortsKeysDeterministically(t *testing.T) {
	m1 := map[string]any{"b": int64(2), "a": int64(1)}
	m2 := map[string]any{"a": int64(1), "b": int64(2)}
	assert.Equal(t, Encode(m1), Encode(m2))
}

func TestEncodeNestedMapRoundTrips(t *testing.T) {
	v := map[string]any{
		"name":  "alice",
		"age":   int64(30),
		"tags":  []any{"x", "y"},
		"nested": map[string]any{"k": "v"},
	}
	decoded, err := Decode(Encode(v))
	require.NoError(t, err)
	assert.Equal(t, v, decoded)
}

func TestEncodePanicsOnUnsupportedType(t *testing.T) {
	assert.Panics(t, func() { Encode(struct{}{}) })
}

func TestHashBytesIsDeterministic(t *testing.T) {
	a := HashBytes([]byte("data"))
	b := HashBytes([]byte("data"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, HashBytes([]byte("other")))
}

func TestHashValueMatchesSortedMapRegardlessOfInsertionOrder(t *testing.T) {
	m1 := map[string]any{"b": int64(2), "a": int64(1)}
	m2 := map[string]any{"a": int64(1), "b": int64(2)}
	assert.Equal(t, HashValue(m1), HashValue(m2))
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	encoded := append(Encode("x"), 0xFF)
	_, err := Decode(encoded)
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	encoded := Encode(int64(1))
	_, err := Decode(encoded[:len(encoded)-2])
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := Decode([]byte{0xFE})
	assert.Error(t, err)
}

func TestAsMapAndAsListTypeAssertions(t *testing.T) {
	m, err := AsMap(map[string]any{"a": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), m["a"])

	_, err = AsMap("not a map")
	assert.Error(t, err)

	l, err := AsList([]any{"a"})
	require.NoError(t, err)
	assert.Len(t, l, 1)

	_, err = AsList("not a list")
	assert.Error(t, err)
}

func TestAsStringAsUint64AsInt64(t *testing.T) {
	s, err := AsString("x")
	require.NoError(t, err)
	assert.Equal(t, "x", s)
	_, err = AsString(1)
	assert.Error(t, err)

	u, err := AsUint64(uint64(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), u)
	u, err = AsUint64(int64(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), u)
	_, err = AsUint64("x")
	assert.Error(t, err)

	i, err := AsInt64(int64(-5))
	require.NoError(t, err)
	assert.Equal(t, int64(-5), i)
	i, err = AsInt64(uint64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), i)
	_, err = AsInt64("x")
	assert.Error(t, err)
}

func TestFieldAndOptField(t *testing.T) {
	m := map[string]any{"k": "v"}

	v, err := Field(m, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = Field(m, "missing")
	assert.Error(t, err)

	v, ok := OptField(m, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = OptField(m, "missing")
	assert.False(t, ok)
}
