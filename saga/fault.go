package saga

import (
	"errors"
	"fmt"
)

// FaultKind classifies an activity failure for retry and propagation decisions.
type FaultKind string

const (
	// FaultValidation marks a caller error. Never retried; fails the
	// instance immediately.
	FaultValidation FaultKind = "validation"

	// FaultTransient marks an infrastructure failure (store/cache/network
	// timeout). The engine retries these per the activity's RetryPolicy.
	FaultTransient FaultKind = "transient_infrastructure"

	// FaultNotFound marks an expected missing-entity outcome. Returned as a
	// value the workflow can inspect, never retried.
	FaultNotFound FaultKind = "not_found"

	// FaultAuthorization marks an ownership or role mismatch. Never retried;
	// fails the instance immediately.
	FaultAuthorization FaultKind = "authorization"

	// FaultExternalService marks a collaborator failure (completion service,
	// storage provider). Not retried by the engine; the workflow decides
	// whether to degrade or propagate.
	FaultExternalService FaultKind = "external_service"
)

// Fault is a typed activity failure. It is an error and also a plain value:
// it round-trips through JSON so the engine can record it verbatim in
// history and replay it on later turns.
//
// Code is the stable, user-visible error code. Internal store/cache details
// belong in Message, which is never part of the public contract.
type Fault struct {
	Kind    FaultKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message,omitempty"`
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return fmt.Sprintf("%s (%s)", f.Code, f.Kind)
	}
	return fmt.Sprintf("%s (%s): %s", f.Code, f.Kind, f.Message)
}

// Retryable reports whether the engine may re-run the activity.
func (f *Fault) Retryable() bool {
	return f.Kind == FaultTransient
}

// Fatal reports whether the fault must fail the instance without giving the
// workflow a chance to catch it.
func (f *Fault) Fatal() bool {
	return f.Kind == FaultValidation || f.Kind == FaultAuthorization
}

// Validationf builds a validation fault with a stable code.
func Validationf(code, format string, args ...any) *Fault {
	return &Fault{Kind: FaultValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Transientf builds a retryable infrastructure fault.
func Transientf(code, format string, args ...any) *Fault {
	return &Fault{Kind: FaultTransient, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found fault.
func NotFoundf(code, format string, args ...any) *Fault {
	return &Fault{Kind: FaultNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Authorizationf builds an authorization fault.
func Authorizationf(code, format string, args ...any) *Fault {
	return &Fault{Kind: FaultAuthorization, Code: code, Message: fmt.Sprintf(format, args...)}
}

// ExternalServicef builds an external-service fault.
func ExternalServicef(code, format string, args ...any) *Fault {
	return &Fault{Kind: FaultExternalService, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsFault converts an arbitrary activity error into a Fault.
//
// Untyped errors are classified as transient infrastructure faults so that a
// forgotten classification errs on the side of a visible retry rather than a
// permanently failed instance.
func AsFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: FaultTransient, Code: "internal", Message: err.Error()}
}

// IsFaultKind reports whether err carries a Fault of the given kind.
func IsFaultKind(err error, kind FaultKind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}
