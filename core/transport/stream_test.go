package transport

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGzipStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewGzipStreamFactory().NewStream(&buf)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("transaction "), 100)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Less(t, buf.Len(), len(payload))

	r, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestGzipStreamRejectsBadLevel(t *testing.T) {
	_, err := (&GzipStreamFactory{Level: 42}).NewStream(io.Discard)
	assert.Error(t, err)
}

func TestIdentityStream(t *testing.T) {
	var buf bytes.Buffer
	w, err := IdentityStreamFactory{}.NewStream(&buf)
	require.NoError(t, err)

	_, err = w.Write([]byte("raw"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "raw", buf.String())
	assert.Empty(t, IdentityStreamFactory{}.ContentEncoding())
}
