// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"errors"
	"fmt"
)

// Kind categorizes an Error by the taxonomy callers actually branch
// on — not every operation needs its own sentinel, but every failure
// needs a kind.
type Kind int

const (
	// KindUsage covers malformed requests: bad framing, bad alignment,
	// unknown record kinds, HELLO sent twice, an operation issued on
	// the wrong kind of handle.
	KindUsage Kind = iota
	// KindCapacity covers resource exhaustion: a full pool, a full fd
	// table, a mailbox overflow on synthetic delivery.
	KindCapacity
	// KindLookup covers resolution failures: no such connection id, no
	// such name.
	KindLookup
	// KindPermission covers policy denials on own/talk/see.
	KindPermission
	// KindState covers state-machine violations: disconnected handles,
	// writes to sealed memory, unsealing a shared object, an orphaned
	// reply, a timed-out reply wait.
	KindState
	// KindInterrupt covers a blocked RECV returning because its
	// connection was canceled or a signal interrupted it.
	KindInterrupt
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindCapacity:
		return "capacity"
	case KindLookup:
		return "lookup"
	case KindPermission:
		return "permission"
	case KindState:
		return "state"
	case KindInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Code names one specific condition within a Kind. Callers that need
// to distinguish, say, POOL_FULL from FD_TABLE_FULL match on Code;
// callers that only care about the broad category match on Kind.
type Code string

const (
	CodeBadHeader       Code = "BAD_HEADER"
	CodeBadAlignment    Code = "BAD_ALIGNMENT"
	CodeBadRecord       Code = "BAD_RECORD"
	CodeHelloTwice      Code = "HELLO_TWICE"
	CodeWrongHandle     Code = "WRONG_HANDLE"
	CodePoolFull        Code = "POOL_FULL"
	CodeFDTableFull     Code = "FD_TABLE_FULL"
	CodeMailboxOverflow Code = "MAILBOX_OVERFLOW"
	CodeNoDest          Code = "NO_DEST"
	CodeNameNotFound    Code = "NAME_NOT_FOUND"
	CodePolicyDenied    Code = "POLICY_DENIED"
	CodeDisconnected    Code = "DISCONNECTED"
	CodeWriteOnSealed   Code = "WRITE_ON_SEALED"
	CodeUnsealShared    Code = "UNSEAL_SHARED"
	CodeReplyOrphan     Code = "REPLY_ORPHAN"
	CodeTimeout         Code = "TIMEOUT"
	CodeCanceled        Code = "CANCELED"
	CodeInterrupted     Code = "INTERRUPTED"
)

// Error is the structured error type returned by every core
// operation. Callers that need to branch on the failure use
// errors.As to recover the Kind and Code:
//
//	var coreErr *Error
//	if errors.As(err, &coreErr) && coreErr.Code == core.CodePoolFull {
//	    ...
//	}
type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("busd: %s (%s)", e.Kind, e.Code)
	}
	return fmt.Sprintf("busd: %s (%s): %s", e.Kind, e.Code, e.Message)
}

// newError constructs an *Error with a formatted message.
func newError(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a *Error carrying the given Code.
func IsCode(err error, code Code) bool {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Code == code
	}
	return false
}
