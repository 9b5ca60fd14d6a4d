package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport classifies network and non-2xx HTTP failures.
	ErrTransport = errors.New("transport failure")
	// ErrParse classifies malformed sitemap or JSON payloads.
	ErrParse = errors.New("parse failure")
	// ErrUnknownSource is returned when a source id is not registered or is disabled.
	ErrUnknownSource = errors.New("unknown source")
	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
	// ErrCrawlPending is returned when the same crawl is already queued or running.
	ErrCrawlPending = errors.New("crawl already pending")
)

// PendingError names the run that already covers a rejected crawl.
type PendingError struct {
	RunID  string
	Source string
	Days   int
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("crawl of %s for %d days already pending as run %s", e.Source, e.Days, e.RunID)
}

// Is makes every PendingError match ErrCrawlPending.
func (e *PendingError) Is(target error) bool { return target == ErrCrawlPending }

// TransportError describes a failed GET.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// Is makes every TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ParseError describes a document that could not be decoded.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ParseError) Unwrap() error { return e.Err }

// Is makes every ParseError match ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }
