package gateway

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

func TestHTTPDimensionProber(t *testing.T) {
	body := pngBytes(t, 640, 480)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("Range"))
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	prober := NewHTTPDimensionProber(server.Client())

	width, height, err := prober.Probe(context.Background(), server.URL+"/images/a.png")
	require.NoError(t, err)
	require.Equal(t, 640, width)
	require.Equal(t, 480, height)
}

func TestHTTPDimensionProber_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	prober := NewHTTPDimensionProber(server.Client())

	_, _, err := prober.Probe(context.Background(), server.URL+"/images/missing.png")
	require.Error(t, err)
}

func TestHTTPDimensionProber_NotAnImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely not an image"))
	}))
	t.Cleanup(server.Close)

	prober := NewHTTPDimensionProber(server.Client())

	_, _, err := prober.Probe(context.Background(), server.URL+"/images/a.png")
	require.Error(t, err)
}
