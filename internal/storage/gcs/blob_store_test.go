package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/iantaiahn/topicscraper/internal/jobs"
)

const bucket = "test-bucket"

func testOptions(server *httptest.Server) []option.ClientOption {
	return []option.ClientOption{option.WithEndpoint(server.URL), option.WithoutAuthentication()}
}

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := Dial(context.Background(), Config{Bucket: bucket, CacheControl: "no-cache"}, testOptions(server)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	const object = "reports/example.com/abc.html"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucket))
		assert.Equal(t, object, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "<html>cloud</html>")
		assert.Contains(t, string(body), "text/html")

		fmt.Fprintf(w, `{"name": %q, "bucket": %q}`, object, bucket)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), object, "text/html", strings.NewReader("<html>cloud</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/reports/example.com/abc.html", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "r.html", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "text/html", strings.NewReader("x"))
	require.ErrorContains(t, err, "path is required")
}

func TestGetObjectMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.GetObject(context.Background(), "reports/none.html")
	require.ErrorIs(t, err, jobs.ErrObjectNotFound)
}

func TestDialVerifiesBucket(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	_, err := Dial(context.Background(), Config{Bucket: bucket, VerifyBucket: true}, testOptions(server)...)
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: bucket})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: bucket})
	require.NoError(t, err)
	require.NoError(t, store.Close(), "borrowed clients are not closed")
}
