// Package apierror defines the HTTP-observable error kinds from spec §7 and
// a uniform JSON response writer for them, grounded on the teacher's
// errorResponse helper in internal/httpserver/server.go.
package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind is a typed sentinel error category.
type Kind struct {
	status  int
	message string
}

func (k *Kind) Error() string { return k.message }

// Status returns the HTTP status code associated with the kind.
func (k *Kind) Status() int { return k.status }

var (
	// ErrNotFound covers missing, inactive, expired, or untargeted links —
	// deliberately indistinguishable from targeting rejection (spec §4.1).
	ErrNotFound = &Kind{http.StatusNotFound, "not found"}
	// ErrValidation covers malformed request bodies.
	ErrValidation = &Kind{http.StatusBadRequest, "validation failed"}
	// ErrStoreUnavailable covers any store operation failure reaching a
	// public response path.
	ErrStoreUnavailable = &Kind{http.StatusInternalServerError, "store unavailable"}
	// ErrDuplicateShortCode is returned by LinkStore.Create when the short
	// code is already taken; the stores do not retry with a new code.
	ErrDuplicateShortCode = &Kind{http.StatusInternalServerError, "could not allocate a unique short code"}
)

// FieldError is one field-level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError wraps ErrValidation with per-field detail.
type ValidationError struct {
	Fields []FieldError
}

func (v *ValidationError) Error() string { return ErrValidation.Error() }
func (v *ValidationError) Unwrap() error { return ErrValidation }

// body is the uniform JSON error shape returned on the wire.
type body struct {
	Error  string       `json:"error"`
	Fields []FieldError `json:"fields,omitempty"`
}

// WriteJSON maps err to a status code + JSON body and writes it. Unknown
// errors are treated as ErrStoreUnavailable so nothing leaks accidentally.
func WriteJSON(w http.ResponseWriter, err error) {
	status := ErrStoreUnavailable.Status()
	resp := body{Error: ErrStoreUnavailable.Error()}

	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		status = ErrValidation.Status()
		resp = body{Error: ErrValidation.Error(), Fields: verr.Fields}
	case errors.Is(err, ErrNotFound):
		status = ErrNotFound.Status()
		resp = body{Error: ErrNotFound.Error()}
	case errors.Is(err, ErrValidation):
		status = ErrValidation.Status()
		resp = body{Error: ErrValidation.Error()}
	case errors.Is(err, ErrDuplicateShortCode):
		status = ErrDuplicateShortCode.Status()
		resp = body{Error: ErrDuplicateShortCode.Error()}
	case errors.Is(err, ErrStoreUnavailable):
		status = ErrStoreUnavailable.Status()
		resp = body{Error: ErrStoreUnavailable.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
