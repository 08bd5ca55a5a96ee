package catalogdb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *RecordCodec {
	t.Helper()
	codec, err := NewRecordCodec()
	require.NoError(t, err)
	t.Cleanup(codec.Close)
	return codec
}

func TestRecordCodec_SmallRecordStoredIdentity(t *testing.T) {
	codec := newTestCodec(t)

	data := []byte(`{"slug":"luna"}`)
	stored, err := codec.Encode(data)
	require.NoError(t, err)
	require.Equal(t, encodingIdentity, stored[0])

	out, err := codec.Decode(stored)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestRecordCodec_LargeRecordCompressed(t *testing.T) {
	codec := newTestCodec(t)

	// Repetitive payload well past the threshold, like a base64 placeholder.
	data := bytes.Repeat([]byte("placeholderplaceholder"), 512)
	stored, err := codec.Encode(data)
	require.NoError(t, err)
	require.Equal(t, encodingZstd, stored[0])
	require.Less(t, len(stored), len(data))

	out, err := codec.Decode(stored)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestRecordCodec_RejectsOversizedRecord(t *testing.T) {
	codec := newTestCodec(t)

	data := make([]byte, MaxRecordSize+1)
	_, err := codec.Encode(data)
	require.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestRecordCodec_RejectsCorruptStored(t *testing.T) {
	codec := newTestCodec(t)

	_, err := codec.Decode(nil)
	require.ErrorIs(t, err, ErrCorruptRecord)

	_, err = codec.Decode([]byte{99, 1, 2, 3})
	require.ErrorIs(t, err, ErrCorruptRecord)

	_, err = codec.Decode([]byte{encodingZstd, 1, 2, 3})
	require.ErrorIs(t, err, ErrCorruptRecord)
}
