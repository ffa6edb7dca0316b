// Package cos provides the shared error taxonomy and small low-level
// utilities used throughout the relay.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Error taxonomy (see spec §7):
//   - ProtocolError:   malformed frame / unknown command / oversize frame.
//     Fatal to the connection; never reported to the broker.
//   - ProcessingError: message-translation failure (schema, subnet,
//     coordinator type). Recovered locally by the caller.
//   - ServerError:     terminal to the connection; surfaced to the peer as
//     a STOMP ERROR frame with context.
//   - TimeoutError:    heartbeat or handshake timer expiry. Fatal to the
//     connection.
//   - DatabaseError:   PeerDirectory bootstrap failure. Fatal to the process.
type (
	ProtocolError struct {
		Msg string
	}

	ProcessingError struct {
		Msg string
	}

	// ServerError is surfaced to the peer as a STOMP ERROR frame. ReceiptID,
	// when non-empty, lets the relay correlate it back to the in-flight
	// message that failed to process.
	ServerError struct {
		Msg             string
		ReceiptID       string
		ContextType     string
		ContextBody     []byte
		ContextEncoding string
	}

	TimeoutError struct {
		Msg string
	}

	DatabaseError struct {
		Msg string
		Err error
	}
)

func (e *ProtocolError) Error() string   { return "protocol error: " + e.Msg }
func (e *ProcessingError) Error() string { return "processing error: " + e.Msg }
func (e *ServerError) Error() string     { return "server error: " + e.Msg }
func (e *TimeoutError) Error() string    { return "timeout: " + e.Msg }

func (e *DatabaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("database error: %s: %v", e.Msg, e.Err)
	}
	return "database error: " + e.Msg
}
func (e *DatabaseError) Unwrap() error { return e.Err }

func NewProtocolError(format string, a ...any) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, a...)}
}

func NewProcessingError(format string, a ...any) *ProcessingError {
	return &ProcessingError{Msg: fmt.Sprintf(format, a...)}
}

func NewServerError(msg string) *ServerError {
	return &ServerError{Msg: msg}
}

// AsServerError wraps a ProcessingError with the context spec §7 requires
// ("original id/type/body") so it can be streamed to the peer as ERROR.
func (e *ProcessingError) AsServerError(receiptID, msgType string, body []byte) *ServerError {
	return &ServerError{
		Msg:         e.Msg,
		ReceiptID:   receiptID,
		ContextType: msgType,
		ContextBody: body,
	}
}

func NewTimeoutError(format string, a ...any) *TimeoutError {
	return &TimeoutError{Msg: fmt.Sprintf(format, a...)}
}

// NewDatabaseError wraps err with a stack trace (pkg/errors.WithStack)
// before storing it: DatabaseError is fatal to the process (spec §7), so
// whatever gets logged just before exit should show where the underlying
// failure actually originated, not just where it was reported.
func NewDatabaseError(err error, format string, a ...any) *DatabaseError {
	return &DatabaseError{Msg: fmt.Sprintf(format, a...), Err: pkgerrors.WithStack(err)}
}

func IsProtocolError(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}

func IsProcessingError(err error) bool {
	var e *ProcessingError
	return errors.As(err, &e)
}

func IsServerError(err error) bool {
	var e *ServerError
	return errors.As(err, &e)
}

func IsTimeoutError(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

// OverflowError indicates an identifier or numeric field didn't fit an
// int64, mirroring the OverflowError in spec §4.5 step 6.
type OverflowError struct {
	Msg string
}

func (e *OverflowError) Error() string { return "overflow: " + e.Msg }

func NewOverflowError(format string, a ...any) *OverflowError {
	return &OverflowError{Msg: fmt.Sprintf(format, a...)}
}
