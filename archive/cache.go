// Package archive provides moodle release archives on local disk.
//
// Archives are downloaded once into a cache directory and reused by every
// infrastructure built afterwards.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/mumoshu/mtenv/errdefs"
)

const (
	// Ext is the extension of every cached archive.
	Ext = ".tar.gz"

	downloadSuffix = ".download"
)

// retryableStatusCodes are the responses worth another attempt.
var retryableStatusCodes = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Cache maps moodle versions to archives in Dir, downloading missing ones
// from BaseURL.
type Cache struct {
	Dir        string
	BaseURL    string
	Downloader Downloader

	// Retries is the total number of download attempts for retryable failures.
	Retries int
	// RetryTimeout is the unit of the linear backoff: the n-th retry waits n*RetryTimeout.
	RetryTimeout time.Duration

	Log logrus.FieldLogger
}

// FileName returns the canonical archive file name of version, e.g. "v4.2.tar.gz".
func FileName(version string) string {
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return version + Ext
}

// Path returns where the archive of version is cached, whether it exists or not.
func (c *Cache) Path(version string) string {
	return filepath.Join(c.Dir, FileName(version))
}

// Get returns the path to the archive of version, downloading it on a cache miss.
// An upstream not-found response is reported as errdefs.ErrInvalidMoodleVersion.
func (c *Cache) Get(ctx context.Context, version string) (string, error) {
	name := FileName(version)
	p := c.Path(version)
	log := c.log().WithField("version", version)

	if _, err := os.Stat(p); err == nil {
		log.Infof("cache hit - using %s", p)
		return p, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	log.Info("cache miss - downloading")

	body, err := c.fetch(ctx, c.BaseURL+name)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.NotFound() {
			return "", errdefs.Wrap(errdefs.KindInvalidMoodleVersion, version, err)
		}
		return "", fmt.Errorf("unable to download moodle %s: %w", version, err)
	}
	defer body.Close()

	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return "", err
	}

	tmp := p + downloadSuffix
	if err := writeFile(tmp, body, 0644); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("unable to download moodle %s: %w", version, err)
	}

	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("unable to move downloaded archive into the cache: %w", err)
	}

	log.Infof("download done, saved to cache: %s", p)

	return p, nil
}

// fetch opens url, retrying retryable responses.
func (c *Cache) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	retries := c.Retries
	if retries < 1 {
		retries = 1
	}

	var (
		body    io.ReadCloser
		attempt int
	)

	op := func() error {
		attempt++
		c.log().WithField("attempt", attempt).Infof("downloading %s - try %d of %d", url, attempt, retries)

		b, err := c.Downloader.Fetch(ctx, url)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && retryableStatusCodes[httpErr.StatusCode] {
				return err
			}
			return backoff.Permanent(err)
		}

		body = b

		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: c.RetryTimeout}, uint64(retries-1)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		c.log().Warnf("download failed: %v; retrying in %s", err, wait)
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}

	return body, nil
}
