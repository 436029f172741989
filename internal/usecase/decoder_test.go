package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkDecoder_ASCII(t *testing.T) {
	d := newChunkDecoder()
	got, err := d.Decode([]byte("Hello"))
	require.NoError(t, err)
	require.Equal(t, "Hello", got)

	tail, err := d.Flush()
	require.NoError(t, err)
	require.Empty(t, tail)
}

func TestChunkDecoder_SplitTwoByteSequence(t *testing.T) {
	raw := []byte("café")
	d := newChunkDecoder()

	first, err := d.Decode(raw[:len(raw)-1])
	require.NoError(t, err)
	require.Equal(t, "caf", first)

	second, err := d.Decode(raw[len(raw)-1:])
	require.NoError(t, err)
	require.Equal(t, "é", second)
}

func TestChunkDecoder_SplitThreeByteSequenceAcrossThreeChunks(t *testing.T) {
	euro := []byte("€")
	require.Len(t, euro, 3)
	d := newChunkDecoder()

	var out string
	for _, b := range euro {
		s, err := d.Decode([]byte{b})
		require.NoError(t, err)
		out += s
	}
	require.Equal(t, "€", out)
}

func TestChunkDecoder_InvalidByteReplaced(t *testing.T) {
	d := newChunkDecoder()
	got, err := d.Decode([]byte{'a', 0xff, 'b'})
	require.NoError(t, err)
	require.Equal(t, "a�b", got)
}

func TestChunkDecoder_FlushIncompleteTail(t *testing.T) {
	d := newChunkDecoder()
	got, err := d.Decode([]byte{'o', 'k', 0xc3})
	require.NoError(t, err)
	require.Equal(t, "ok", got)

	tail, err := d.Flush()
	require.NoError(t, err)
	require.Equal(t, "�", tail)

	tail, err = d.Flush()
	require.NoError(t, err)
	require.Empty(t, tail)
}

func TestChunkDecoder_EmptyChunk(t *testing.T) {
	d := newChunkDecoder()
	got, err := d.Decode(nil)
	require.NoError(t, err)
	require.Empty(t, got)
}
