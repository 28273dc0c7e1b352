package dispatcher

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
)

// staleDialTimeout bounds the liveness probe on an existing socket file.
const staleDialTimeout = 1 * time.Second

// cleanStaleSocket decides what to do with a leftover socket file at path.
// A successful dial means another dispatcher is live and the file must not
// be clobbered; a refused or timed-out dial means the file is debris from
// a crash and gets unlinked.
func cleanStaleSocket(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("stat socket %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), staleDialTimeout)
	defer cancel()

	var dialer net.Dialer
	if conn, err := dialer.DialContext(ctx, "unix", path); err == nil {
		_ = conn.Close()
		return fmt.Errorf("another dispatcher is already running on %s", path)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}
