package moodle

import (
	"fmt"
	"strings"
)

// Error codes reported by the portal's AJAX surface.
const (
	codeRequiresLogin = "servicerequireslogin"
	codeInvalidToken  = "Invalid token"
)

// courseAccessMessages are remote errors meaning the course itself became
// inaccessible for the student (dropped from a group, hidden course). They
// call for a soft-disable, not a sync failure.
var courseAccessMessages = []string{
	"error/notingroup",
	"Course or activity not accessible",
}

// RemoteError is a domain error returned by the portal as a value, so sync
// logic can branch on it without unwinding.
type RemoteError struct {
	Message string `json:"message"`
	Code    string `json:"errorcode"`
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (code: %s)", e.Message, e.Code)
}

// IsCourseAccess reports whether the error means the course is inaccessible
// rather than the call having failed.
func (e *RemoteError) IsCourseAccess() bool {
	if e == nil {
		return false
	}
	return IsCourseAccessMessage(e.Message)
}

func IsCourseAccessMessage(message string) bool {
	if message == "" {
		return false
	}
	for _, known := range courseAccessMessages {
		if strings.Contains(known, message) || strings.Contains(message, known) {
			return true
		}
	}
	return false
}

// IsTokenMessage reports whether the error message indicates an invalid
// session token, which feeds the user's health counter.
func IsTokenMessage(message string) bool {
	return strings.Contains(message, codeInvalidToken)
}
