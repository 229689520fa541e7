// waitfor.go - Startup readiness gate for dependent services.
package server

import (
	"context"
	"fmt"
	"net"
	"time"
)

const waitPollInterval = 500 * time.Millisecond

// WaitForTCP blocks until addr accepts a TCP connection or ctx expires.
// It is used once per dependency at startup; a dependency that never
// comes up is fatal to the process, so the error wraps
// ErrDependencyUnavailable for main to report.
func WaitForTCP(ctx context.Context, addr string) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		d := net.Dialer{Timeout: waitPollInterval}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrDependencyUnavailable, addr, err)
		case <-ticker.C:
		}
	}
}
