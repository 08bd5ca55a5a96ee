package objectstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeObjectHost is a minimal S3-style object host backed by a map.
type fakeObjectHost struct {
	mu      sync.Mutex
	objects map[string][]byte
	token   string

	failBatch []string
}

func newFakeObjectHost(token string) *fakeObjectHost {
	return &fakeObjectHost{
		objects: make(map[string][]byte),
		token:   token,
	}
}

func (h *fakeObjectHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")

	switch {
	case r.Method == http.MethodPost && key == "batch-delete":
		var req struct {
			Keys []string `json:"keys"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var failed []string
		for _, k := range req.Keys {
			if contains(h.failBatch, k) {
				failed = append(failed, k)
				continue
			}
			delete(h.objects, k)
		}
		_ = json.NewEncoder(w).Encode(struct {
			Failed []string `json:"failed"`
		}{Failed: failed})
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		var keys []string
		for k := range h.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		_ = json.NewEncoder(w).Encode(struct {
			Keys []string `json:"keys"`
		}{Keys: keys})
	case r.Method == http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		h.objects[key] = data
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodGet:
		data, ok := h.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	case r.Method == http.MethodHead:
		if _, ok := h.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodDelete:
		if _, ok := h.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(h.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func setupHTTPStore(t *testing.T, host *fakeObjectHost) *HTTP {
	t.Helper()

	srv := httptest.NewServer(host)
	t.Cleanup(srv.Close)

	return NewHTTP(srv.URL, WithToken(host.token))
}

func TestHTTPWriteRead(t *testing.T) {
	host := newFakeObjectHost("store-token")
	store := setupHTTPStore(t, host)
	ctx := context.Background()

	err := store.Write(ctx, "images/abc.jpg", strings.NewReader("jpeg bytes"))
	require.NoError(t, err)

	rc, err := store.Read(ctx, "images/abc.jpg")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "jpeg bytes", string(data))
}

func TestHTTPReadNotFound(t *testing.T) {
	host := newFakeObjectHost("")
	store := setupHTTPStore(t, host)

	_, err := store.Read(context.Background(), "images/missing.jpg")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPAuthRejected(t *testing.T) {
	host := newFakeObjectHost("store-token")
	srv := httptest.NewServer(host)
	t.Cleanup(srv.Close)

	store := NewHTTP(srv.URL, WithToken("wrong-token"))

	err := store.Write(context.Background(), "images/abc.jpg", strings.NewReader("data"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestHTTPDelete(t *testing.T) {
	host := newFakeObjectHost("")
	store := setupHTTPStore(t, host)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "images/abc.jpg", strings.NewReader("data")))
	require.NoError(t, store.Delete(ctx, "images/abc.jpg"))

	exists, err := store.Exists(ctx, "images/abc.jpg")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestHTTPDeleteMissingIsIdempotent(t *testing.T) {
	host := newFakeObjectHost("")
	store := setupHTTPStore(t, host)

	require.NoError(t, store.Delete(context.Background(), "images/missing.jpg"))
}

func TestHTTPExists(t *testing.T) {
	host := newFakeObjectHost("")
	store := setupHTTPStore(t, host)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "images/abc.jpg")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, store.Write(ctx, "images/abc.jpg", strings.NewReader("data")))

	exists, err = store.Exists(ctx, "images/abc.jpg")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestHTTPList(t *testing.T) {
	host := newFakeObjectHost("")
	store := setupHTTPStore(t, host)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "images/a.jpg", strings.NewReader("a")))
	require.NoError(t, store.Write(ctx, "images/b.jpg", strings.NewReader("b")))
	require.NoError(t, store.Write(ctx, "other/c.jpg", strings.NewReader("c")))

	keys, err := store.List(ctx, "images/")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"images/a.jpg", "images/b.jpg"}, keys)
}

func TestHTTPDeleteBatch(t *testing.T) {
	host := newFakeObjectHost("")
	store := setupHTTPStore(t, host)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "images/a.jpg", strings.NewReader("a")))
	require.NoError(t, store.Write(ctx, "images/b.jpg", strings.NewReader("b")))

	failed, err := store.DeleteBatch(ctx, []string{"images/a.jpg", "images/b.jpg"})
	require.NoError(t, err)
	require.Empty(t, failed)

	exists, err := store.Exists(ctx, "images/a.jpg")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestHTTPDeleteBatchReportsFailures(t *testing.T) {
	host := newFakeObjectHost("")
	host.failBatch = []string{"images/b.jpg"}
	store := setupHTTPStore(t, host)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "images/a.jpg", strings.NewReader("a")))
	require.NoError(t, store.Write(ctx, "images/b.jpg", strings.NewReader("b")))

	failed, err := store.DeleteBatch(ctx, []string{"images/a.jpg", "images/b.jpg"})
	require.NoError(t, err)
	require.Equal(t, []string{"images/b.jpg"}, failed)
}

func TestHTTPDeleteBatchHostError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	store := NewHTTP(srv.URL)

	keys := []string{"images/a.jpg", "images/b.jpg"}
	failed, err := store.DeleteBatch(context.Background(), keys)
	require.Error(t, err)
	require.Equal(t, keys, failed)
}
