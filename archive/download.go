package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Downloader opens the content behind a URL for reading. It does not retry.
// The caller closes the returned body.
type Downloader interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPError is returned by HTTPDownloader for any non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// NotFound reports whether the server said there is nothing at the URL.
func (e *HTTPError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// HTTPDownloader is a Downloader backed by net/http.
type HTTPDownloader struct {
	Client *http.Client
}

var _ Downloader = &HTTPDownloader{}

// NewHTTPDownloader returns a downloader with a timeout generous enough for release tarballs.
func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{
		Client: &http.Client{Timeout: 30 * time.Minute},
	}
}

func (d *HTTPDownloader) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	c := d.Client
	if c == nil {
		c = http.DefaultClient
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	return resp.Body, nil
}
