// Package archivetest builds release-like tarballs for tests.
package archivetest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TarGz returns a gzipped tarball containing files, keyed by slash-separated path.
// Parent directories get their own entries, as in GitHub release archives.
func TarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	dirs := map[string]bool{}
	for _, n := range names {
		parts := strings.Split(n, "/")
		for i := 1; i < len(parts); i++ {
			d := strings.Join(parts[:i], "/") + "/"
			if dirs[d] {
				continue
			}
			dirs[d] = true
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: d, Typeflag: tar.TypeDir, Mode: 0755}))
		}

		content := files[n]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     n,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())

	return buf.Bytes()
}

// MoodleRelease returns a tarball shaped like a moodle release of version,
// unpacking into "moodle-<version>/".
func MoodleRelease(t *testing.T, version string) []byte {
	t.Helper()

	root := "moodle-" + version + "/"

	return TarGz(t, map[string]string{
		root + "version.php":                    "<?php $release = '" + version + "';\n",
		root + "admin/cli/install_database.php": "<?php\n",
		root + "theme/boost/config.php":         "<?php\n",
	})
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t *testing.T, path string, data []byte) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}
