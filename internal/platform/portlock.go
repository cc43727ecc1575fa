// Package platform holds the OS-specific glue the console needs: an
// exclusive lock per serial port so two ground stations never drive the same
// pad link at once.
package platform

import (
	"errors"
	"strings"
)

// ErrPortLocked indicates another process already owns the lock for this
// serial port.
var ErrPortLocked = errors.New("serial port locked by another process")

// ErrPortLockUnsupported indicates the current platform has no lock backend
// implementation.
var ErrPortLockUnsupported = errors.New("port lock unsupported")

// PortLock represents an acquired exclusive port lock.
type PortLock interface {
	Release() error
}

// AcquirePortLock takes an advisory exclusive lock on port under appID's
// namespace. Consoles serving different ports coexist; a second console on
// the same port gets ErrPortLocked.
func AcquirePortLock(appID, port string) (PortLock, error) {
	return acquirePortLock(
		normalizeLockComponent(appID, "app"),
		normalizeLockComponent(port, "port"),
	)
}

func normalizeLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
