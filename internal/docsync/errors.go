package docsync

import "errors"

var (
	// ErrLifecycleViolation indicates a publish to a document state that was
	// already torn down. It is always a bug in open/close sequencing.
	ErrLifecycleViolation = errors.New("publish to closed document state")

	// ErrDocumentClosed is returned by State.Next once the document is closed.
	ErrDocumentClosed = errors.New("document closed")
)
