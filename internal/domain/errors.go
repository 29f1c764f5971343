package domain

import "fmt"

// Error types for consistent error handling across the client.

// ErrNetwork indicates a transport failure before any response was obtained.
type ErrNetwork struct {
	Op  string
	Err error
}

func (e *ErrNetwork) Error() string {
	return fmt.Sprintf("network error [%s]: %v", e.Op, e.Err)
}

func (e *ErrNetwork) Unwrap() error {
	return e.Err
}

// ErrHTTP indicates a non-2xx response from the CRM API.
// Message is the server-provided detail/message, or a generic status text.
type ErrHTTP struct {
	Op      string
	Status  int
	Message string
}

func (e *ErrHTTP) Error() string {
	return e.Message
}

// ErrAuth indicates a failed login. It specializes ErrHTTP, so
// errors.As(err, &*ErrHTTP) matches it too.
type ErrAuth struct {
	HTTP *ErrHTTP
}

func (e *ErrAuth) Error() string {
	return e.HTTP.Error()
}

func (e *ErrAuth) Unwrap() error {
	return e.HTTP
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input or malformed payload).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrTokenStore indicates the token backing store could not be written.
type ErrTokenStore struct {
	Op  string
	Err error
}

func (e *ErrTokenStore) Error() string {
	return fmt.Sprintf("token store %s: %v", e.Op, e.Err)
}

func (e *ErrTokenStore) Unwrap() error {
	return e.Err
}
