// Package browser realizes sessions as live browser execution contexts.
// Two drivers are provided: a playwright-backed launcher covering all three
// engines, and a native CDP launcher for chromium-only deployments that
// cannot install the playwright driver.
package browser

import (
	"context"

	"go.uber.org/zap"

	"github.com/korvuslabs/prowl/internal/session"
)

// Launcher spawns a browser execution context configured per the session
// spec. Launch is expensive and must be called outside any pool lock.
type Launcher interface {
	Launch(ctx context.Context, spec session.Spec) (session.Runtime, error)
	// Close tears down the driver itself, not individual runtimes.
	Close(ctx context.Context) error
}

// SessionFactory adapts a Launcher to the pool's creation hook.
type SessionFactory struct {
	launcher  Launcher
	logger    *zap.Logger
	ignoreTLS bool
}

// NewSessionFactory wraps a launcher for use by the session pool.
// ignoreTLSErrors is the deployment-wide default applied to every spec.
func NewSessionFactory(launcher Launcher, logger *zap.Logger, ignoreTLSErrors bool) *SessionFactory {
	return &SessionFactory{
		launcher:  launcher,
		logger:    logger.Named("session_factory"),
		ignoreTLS: ignoreTLSErrors,
	}
}

// New launches a browser context and wraps it in an Idle session.
func (f *SessionFactory) New(ctx context.Context, ownerKey string, spec session.Spec) (*session.Session, error) {
	if f.ignoreTLS {
		spec.IgnoreTLSErrors = true
	}
	f.logger.Debug("Launching browser context",
		zap.String("owner", ownerKey),
		zap.String("engine", string(spec.Engine)),
		zap.String("visibility", string(spec.Visibility)),
	)
	rt, err := f.launcher.Launch(ctx, spec)
	if err != nil {
		return nil, err
	}
	return session.New(ownerKey, spec, rt), nil
}
