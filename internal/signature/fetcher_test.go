package signature

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCertificateFetcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "key-1.pem"), []byte("cert-bytes"), 0o600))

	f := &FileCertificateFetcher{Dir: dir}
	data, err := f.Fetch(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "cert-bytes", string(data))
}

func TestFileCertificateFetcherMissing(t *testing.T) {
	f := &FileCertificateFetcher{Dir: t.TempDir()}
	_, err := f.Fetch(context.Background(), "nope")
	require.Error(t, err)
	var fe *FetchCertificateError
	require.ErrorAs(t, err, &fe)
}

func TestHTTPCertificateFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/key-1", r.URL.Path)
		w.Write([]byte("cert-bytes"))
	}))
	defer srv.Close()

	f := NewHTTPCertificateFetcher(srv.URL)
	data, err := f.Fetch(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "cert-bytes", string(data))
}

func TestHTTPCertificateFetcherNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPCertificateFetcher(srv.URL)
	_, err := f.Fetch(context.Background(), "key-1")
	require.Error(t, err)
	var fe *FetchCertificateError
	require.ErrorAs(t, err, &fe)
}
