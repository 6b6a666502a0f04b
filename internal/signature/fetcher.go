package signature

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rancher/agent-control/pkg/durations"
)

// CertificateFetcher returns a PEM certificate for a given key-id, either
// from a local file or an HTTPS endpoint (spec.md §4.5).
type CertificateFetcher interface {
	Fetch(ctx context.Context, keyID string) ([]byte, error)
}

// FileCertificateFetcher reads "<dir>/<keyID>.pem".
type FileCertificateFetcher struct {
	Dir string
}

func (f *FileCertificateFetcher) Fetch(_ context.Context, keyID string) ([]byte, error) {
	path := filepath.Join(f.Dir, keyID+".pem")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FetchCertificateError{Detail: err.Error()}
	}
	return data, nil
}

// HTTPCertificateFetcher GETs "<BaseURL>/<keyID>".
type HTTPCertificateFetcher struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPCertificateFetcher(baseURL string) *HTTPCertificateFetcher {
	return &HTTPCertificateFetcher{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: durations.CertificateFetchTimeout},
	}
}

func (f *HTTPCertificateFetcher) Fetch(ctx context.Context, keyID string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s", f.BaseURL, keyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchCertificateError{Detail: err.Error()}
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &FetchCertificateError{Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchCertificateError{Detail: fmt.Sprintf("unexpected status %d fetching %s", resp.StatusCode, url)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchCertificateError{Detail: err.Error()}
	}
	return data, nil
}
