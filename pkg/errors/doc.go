// Package errors provides structured errors with codes for the login
// orchestration services.
//
// Services return *Error values so HTTP handlers can map them to a status
// code with MapErrorCodeToHTTPStatus without string matching:
//
//	err := errors.New(errors.ErrCodeCodeUsed, "code already used")
//	if errors.IsCode(err, errors.ErrCodeCodeUsed) {
//		// ...
//	}
//
// Grant errors (code_not_found, code_expired, code_used, ...) use the
// lower-case form because they are surfaced verbatim to OAuth clients.
//
// The workflow engine does not use this package for its own failures. It
// reports them as typed run results instead.
package errors
