package refs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefNameBuilders(t *testing.T) {
	assert.Equal(t, "refs/warp/g1/writers/w1", WriterTip("g1", "w1"))
	assert.Equal(t, "refs/warp/g1/writers/", WritersPrefix("g1"))
	assert.Equal(t, "refs/warp/g1/checkpoint", Checkpoint("g1"))
	assert.Equal(t, "refs/warp/g1/coverage", Coverage("g1"))
	assert.Equal(t, "refs/warp/g1/audit/w1", AuditChain("g1", "w1"))
}

func TestWriterFromTipRef(t *testing.T) {
	writer, ok := WriterFromTipRef("g1", WriterTip("g1", "w1"))
	require.True(t, ok)
	assert.Equal(t, "w1", writer)

	_, ok = WriterFromTipRef("g1", "refs/warp/g2/writers/w1")
	assert.False(t, ok)
}

func TestNewMessageRequiresTrailersPerKind(t *testing.T) {
	_, err := NewMessage(KindPatch, map[string]string{"graph": "g1"})
	assert.Error(t, err, "patch commit missing writer/lamport/patch-oid/schema must fail")

	msg, err := NewMessage(KindPatch, map[string]string{
		"graph": "g1", "writer": "w1", "lamport": "1", "patch-oid": "h1", "schema": "1",
	})
	require.NoError(t, err)
	assert.Equal(t, KindPatch, msg.Kind)
}

func TestMessageEncodeSortsTrailers(t *testing.T) {
	msg, err := NewMessage(KindAnchor, map[string]string{"graph": "g1"})
	require.NoError(t, err)
	assert.Equal(t, "anchor\ngraph: g1\n", msg.Encode())
}

func TestMessageEncodeDecodeRoundTrips(t *testing.T) {
	msg, err := NewMessage(KindPatch, map[string]string{
		"graph": "g1", "writer": "w1", "lamport": "7", "patch-oid": "h1", "schema": "1",
	})
	require.NoError(t, err)

	parsed, err := ParseMessage(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, msg.Kind, parsed.Kind)
	assert.Equal(t, msg.Trailers, parsed.Trailers)
}

func TestParseMessageRejectsEmptyInput(t *testing.T) {
	_, err := ParseMessage("")
	assert.Error(t, err)
}

func TestParseMessageRejectsMalformedTrailerLine(t *testing.T) {
	_, err := ParseMessage("patch\nnot-a-trailer-line\n")
	assert.Error(t, err)
}

func TestMessageLamportParsesTrailer(t *testing.T) {
	msg, err := NewMessage(KindPatch, map[string]string{
		"graph": "g1", "writer": "w1", "lamport": "42", "patch-oid": "h1", "schema": "1",
	})
	require.NoError(t, err)

	lamport, err := msg.Lamport()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), lamport)
}

func TestMessageLamportErrorsWhenMissing(t *testing.T) {
	msg, err := NewMessage(KindAnchor, map[string]string{"graph": "g1"})
	require.NoError(t, err)
	_, err = msg.Lamport()
	assert.Error(t, err)
}
