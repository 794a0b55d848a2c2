// Package portalloc finds free TCP ports for moodle test environments.
package portalloc

import (
	"fmt"
	"net"
)

const maxAttempts = 100

// Allocator hands out ports that the OS reported free and that are not reserved.
//
// A port is only known to be free at the moment of the probe. A container
// binding it later can still lose a race against another process.
type Allocator struct {
	reserved map[int]struct{}

	// probe returns a port the OS considers free. Tests replace it.
	probe func() (int, error)
}

// New returns an Allocator that never hands out any of the given ports.
// Every port it hands out is reserved as well, so two calls never return the same port.
func New(reserved ...int) *Allocator {
	a := &Allocator{
		reserved: map[int]struct{}{},
		probe:    probeEphemeralPort,
	}
	for _, p := range reserved {
		a.Reserve(p)
	}
	return a
}

// Reserve marks port as taken.
func (a *Allocator) Reserve(port int) {
	if port > 0 {
		a.reserved[port] = struct{}{}
	}
}

// Allocate returns a free, unreserved port and reserves it.
func (a *Allocator) Allocate() (int, error) {
	for i := 0; i < maxAttempts; i++ {
		port, err := a.probe()
		if err != nil {
			return 0, fmt.Errorf("unable to probe for a free port: %w", err)
		}

		if _, taken := a.reserved[port]; taken {
			continue
		}

		a.reserved[port] = struct{}{}

		return port, nil
	}

	return 0, fmt.Errorf("unable to find a free port after %d attempts", maxAttempts)
}

func probeEphemeralPort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port, nil
}
