package s3store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/premium-keys/internal/storage"
)

// fakeS3 is a minimal path-style S3 endpoint holding objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodGet:
		data, ok := f.objects[path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[path] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) object(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.objects[path])
}

func (f *fakeS3) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func newTestBackend(t *testing.T) (*Backend, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), Config{
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	b, err := NewBackend(client, "premium", "snapshots/keys.json", zerolog.Nop())
	require.NoError(t, err)
	return b, fake
}

func TestBackend_ReadWrite(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestBackend(t)

	_, err := b.Read(ctx)
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	require.NoError(t, b.Write(ctx, []byte(`{"a":{}}`)))
	require.Equal(t, `{"a":{}}`, fake.object("premium/snapshots/keys.json"))

	data, err := b.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"a":{}}`, string(data))
}

func TestBackend_ServerError(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestBackend(t)
	fake.setFail(true)

	_, err := b.Read(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, storage.ErrSnapshotNotFound)
}

func TestNewBackend_RequiresBucket(t *testing.T) {
	_, err := NewBackend(nil, "", "", zerolog.Nop())
	require.Error(t, err)
}
