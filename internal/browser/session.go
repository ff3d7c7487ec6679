// Package browser defines the automated-browser session contract shared by the
// chromedp and rod drivers, the minimal-footprint launch profile and the error
// classification applied at the driver boundary.
package browser

import (
	"context"
	"errors"
)

// ErrSessionCreation is wrapped by every Launcher failure.
var ErrSessionCreation = errors.New("browser session creation failed")

// Session owns one live browser process for the duration of a single fetch.
// Errors returned by Session methods are *Error values carrying a Kind.
type Session interface {
	// Navigate loads url in the page and waits for the load event or ctx expiry.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a JavaScript expression and decodes its JSON result into out.
	Evaluate(ctx context.Context, expression string, out any) error
	// StopLoading asks the page to stop loading. It does not wait for pending work.
	StopLoading(ctx context.Context) error
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	// Close releases the browser. It is idempotent and never reports errors.
	Close()
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, opts Options) (Session, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context, opts Options) (Session, error) {
	return f(ctx, opts)
}

// Response describes the main document response observed by a session.
type Response struct {
	URL    string
	Status int
}

// ResponseRecorder is implemented by sessions that observe network traffic.
type ResponseRecorder interface {
	LastResponse() (Response, bool)
}
