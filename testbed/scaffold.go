package testbed

import (
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// CopyScaffold copies the scaffold tree at src into dst.
//
// Existing files in dst that are not part of the scaffold are kept, files
// present in both are overwritten. File modes are preserved so the scaffold
// scripts stay executable. The .git directory of the scaffold is skipped.
func CopyScaffold(src, dst string) error {
	from := osfs.New(src)

	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	to := osfs.New(dst)

	return util.Walk(from, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return to.MkdirAll(path, info.Mode().Perm()|0700)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := from.Readlink(path)
			if err != nil {
				return err
			}
			_ = to.Remove(path)
			return to.Symlink(target, path)
		}

		return copyFile(from, to, path, info.Mode().Perm())
	})
}

func copyFile(from, to billy.Filesystem, path string, perm os.FileMode) error {
	r, err := from.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := to.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	// OpenFile does not change the mode of a file that already exists.
	return os.Chmod(filepath.Join(to.Root(), path), perm)
}
