package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyActive     = errors.New("already active")
	ErrReceptorConflict  = errors.New("receptor conflict")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrDispatch          = errors.New("dispatch failed")
	ErrTimeout           = errors.New("timed out waiting for workflow status")
)

// Reason codes reported to API callers
const (
	ReasonNotFound          = "NotFound"
	ReasonUnknownSubarray   = "UnknownSubarray"
	ReasonAlreadyActive     = "AlreadyActive"
	ReasonReceptorConflict  = "ReceptorConflict"
	ReasonResourceExhausted = "ResourceExhausted"
	ReasonDispatchError     = "DispatchError"
	ReasonTimeout           = "Timeout"
	ReasonInvalid           = "Invalid"
	ReasonInternal          = "Internal"
)

// ValidationError reports malformed or contradictory configuration
type ValidationError struct {
	Kind   string // "template", "component", "subarray", "receptor", ...
	Name   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid ")
	b.WriteString(e.Kind)
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %s", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// Invalid is shorthand for building a ValidationError
func Invalid(kind, name, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Name: name, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DenialError is an admission decision returned synchronously to the caller
type DenialError struct {
	Reason    string
	Subarray  string
	Resource  string   // set for ResourceExhausted
	Receptors []string // set for ReceptorConflict
	Detail    string
}

func (e *DenialError) Error() string {
	switch e.Reason {
	case ReasonResourceExhausted:
		return fmt.Sprintf("%s(%s): subarray %s", e.Reason, e.Resource, e.Subarray)
	case ReasonReceptorConflict:
		return fmt.Sprintf("%s: subarray %s: receptors %s already in use", e.Reason, e.Subarray, strings.Join(e.Receptors, ","))
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: subarray %s: %s", e.Reason, e.Subarray, e.Detail)
	}
	return fmt.Sprintf("%s: subarray %s", e.Reason, e.Subarray)
}

// Is maps denial reasons onto the package sentinels
func (e *DenialError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Reason == ReasonUnknownSubarray
	case ErrAlreadyActive:
		return e.Reason == ReasonAlreadyActive
	case ErrReceptorConflict:
		return e.Reason == ReasonReceptorConflict
	case ErrResourceExhausted:
		return e.Reason == ReasonResourceExhausted
	}
	return false
}

// DispatchError wraps a failed call to the external workflow client
type DispatchError struct {
	Op     string // "submit" or "cancel"
	Handle string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Handle, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }

// ReasonOf maps an error onto the reason code reported to callers
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var denial *DenialError
	if errors.As(err, &denial) {
		if denial.Reason == ReasonUnknownSubarray {
			return ReasonNotFound
		}
		return denial.Reason
	}
	var invalid *ValidationError
	switch {
	case errors.As(err, &invalid):
		return ReasonInvalid
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrAlreadyActive):
		return ReasonAlreadyActive
	case errors.Is(err, ErrReceptorConflict):
		return ReasonReceptorConflict
	case errors.Is(err, ErrResourceExhausted):
		return ReasonResourceExhausted
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrDispatch):
		return ReasonDispatchError
	}
	return ReasonInternal
}
