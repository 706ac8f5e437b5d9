// Package apperr holds the user-facing error type shared by every store and
// the translators that produce it from gateway failures.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a translated error.
type Kind string

const (
	// KindTransport means the request never got a response.
	KindTransport Kind = "transport"
	// KindServer covers 5xx and anything that is not a client mistake.
	KindServer Kind = "server"
	// KindClient covers 4xx responses and local validation failures.
	KindClient Kind = "client"
	// KindAbsence marks "nothing exists yet" answers. Stores that declare an
	// absence policy commit these as an empty success.
	KindAbsence Kind = "absence"
	// KindUnauthenticated means the operation needs a session.
	KindUnauthenticated Kind = "unauthenticated"
)

// Info is the only error form store actions return.
type Info struct {
	Message string
	Status  int
	Kind    Kind
}

func (i *Info) Error() string {
	return fmt.Sprintf("%s (status %d)", i.Message, i.Status)
}

// RemoteError is the normalized {error, status} body of a failed API call.
type RemoteError struct {
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error: %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("remote error %d: %s", e.Status, e.Message)
}

// TransportError wraps failures below HTTP: DNS, refused connections,
// timeouts, undecodable bodies.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// As returns the Info carried by err, if any.
func As(err error) (*Info, bool) {
	var info *Info
	if errors.As(err, &info) {
		return info, true
	}
	return nil, false
}

// IsKind reports whether err carries an Info of the given kind.
func IsKind(err error, kind Kind) bool {
	info, ok := As(err)
	return ok && info.Kind == kind
}

// StatusOf returns the HTTP status of a RemoteError, or 0.
func StatusOf(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

// Unauthenticated builds the error returned when an operation is attempted
// without a session.
func Unauthenticated() *Info {
	return &Info{
		Message: catalog().Generic.Unauthenticated,
		Status:  http.StatusUnauthorized,
		Kind:    KindUnauthenticated,
	}
}
