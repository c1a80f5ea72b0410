// Package dblock serializes Postgres integration tests across test binaries. Packages
// that truncate shared tables hold the lock for their whole run.
package dblock

import (
	"net"
	"time"
)

const (
	lockAddr  = "127.0.0.1:45433"
	retryWait = 50 * time.Millisecond
)

// Acquire blocks until this process owns the lock and returns its release function.
// The lock is a bound TCP port, so it is freed even when a test binary crashes.
func Acquire() func() {
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(retryWait)
	}
}
