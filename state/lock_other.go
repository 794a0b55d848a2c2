//go:build !unix

package state

// fileLock is a no-op where flock is unavailable.
type fileLock struct{}

func acquireLock(path string, exclusive bool) (*fileLock, error) {
	return &fileLock{}, nil
}

func (l *fileLock) Release() {}
