// Package identity holds the process-wide caller identity used by every
// adapter instance in this process. It is resolved exactly once, on first
// use, and never torn down.
package identity

import (
	"fmt"
	"os/user"
	"sync"
	"sync/atomic"
)

// Context is the resolved process identity.
type Context struct {
	UserName string
	GroupID  string
	AppID    int64
}

var (
	initialized atomic.Bool
	mu          sync.Mutex
	current     *Context
)

// Ensure resolves the process identity if it has not been resolved yet.
// Safe under concurrent first use: the unlocked check skips the mutex on
// every call after the first, and the locked re-check makes the one-time
// resolution happen at most once.
func Ensure(appID int64) (*Context, error) {
	if initialized.Load() {
		return current, nil
	}

	mu.Lock()
	defer mu.Unlock()
	if initialized.Load() {
		return current, nil
	}

	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve process user: %w", err)
	}

	current = &Context{
		UserName: u.Username,
		GroupID:  u.Gid,
		AppID:    appID,
	}
	initialized.Store(true)
	return current, nil
}

// Current returns the resolved identity, or nil before the first Ensure.
func Current() *Context {
	if !initialized.Load() {
		return nil
	}
	return current
}
