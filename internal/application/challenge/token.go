// Package challenge manages the anti-abuse token that gates SMS dispatch.
package challenge

import (
	"context"
	"errors"
)

// State is the lifecycle state of a Token.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Expired
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Expired:
		return "expired"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Token is a snapshot of the current challenge token. Handle is set once the
// surface has rendered it; RawResponse once the check has been passed.
type Token struct {
	Handle      string
	State       State
	RawResponse string
}

// ErrConfiguration is returned by a Surface that is not set up for the
// current domain. It cannot be fixed by retrying.
var ErrConfiguration = errors.New("challenge surface not configured")

// RenderConfig is passed to Surface.Render.
type RenderConfig struct {
	Invisible bool
	// Response is a proof produced by the client, if one was offered.
	Response string
}

// Listener receives the surface callbacks for one rendered token.
type Listener interface {
	OnTokenReady(response string)
	OnExpired()
	OnError(err error)
}

// Surface renders challenge tokens. Mount is an upsert; Clear and Unmount on
// unknown ids are no-ops.
type Surface interface {
	Mount(id string)
	Unmount(id string)
	Render(ctx context.Context, mountID string, cfg RenderConfig, l Listener) (string, error)
	Valid(handle string) bool
	Clear(handle string)
}
