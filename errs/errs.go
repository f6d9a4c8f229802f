// Package errs classifies the failures the downloader can produce so callers
// can decide, without string matching, whether a failure is fatal to the
// whole run or scoped to one peer.
package errs

import (
	"errors"
	"net"
)

// Kind is one of the error categories a download can fail with.
type Kind int

const (
	// IO covers socket or disk I/O failures.
	IO Kind = iota
	// Timeout covers an operation exceeding its deadline.
	Timeout
	// Protocol covers malformed frames, unknown ids, and handshake mismatches.
	Protocol
	// Integrity covers a piece hash mismatch.
	Integrity
	// Config covers malformed metainfo or invalid tracker replies.
	Config
	// NoPeers covers an empty peer list or total connection failure.
	NoPeers
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case Timeout:
		return "timeout"
	case Protocol:
		return "protocol"
	case Integrity:
		return "integrity"
	case Config:
		return "config"
	case NoPeers:
		return "no_peers"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so callers can branch with
// errors.As instead of matching strings.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// FromRead classifies a failed frame read: a deadline exceeded while
// waiting for bytes is Timeout, anything else (EOF, short read, closed
// connection) is Protocol, per the wire codecs' decode rules.
func FromRead(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return New(Timeout, err)
	}
	return New(Protocol, err)
}

// Is reports whether err (or anything it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
