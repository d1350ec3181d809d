package app

import (
	"fmt"
	"net/http"
)

// DomainError carries the taxonomy every operation reports through:
// NOT_FOUND, CONFLICT, BAD_REQUEST and UPSTREAM_ERROR. Details hold the ids
// and state needed to reconstruct the failed guard, never internal stack
// state.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func notFound(message string, details any) *DomainError {
	return &DomainError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: message, Details: details}
}

func conflict(message string, details any) *DomainError {
	return &DomainError{Status: http.StatusConflict, Code: "CONFLICT", Message: message, Details: details}
}

func badRequest(message string, details any) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: message, Details: details}
}

func upstream(message string, err error) *DomainError {
	return &DomainError{Status: http.StatusBadGateway, Code: "UPSTREAM_ERROR", Message: fmt.Sprintf("%s: %v", message, err)}
}

func errReleaseClosed(releaseID string) *DomainError {
	return badRequest("Release has been closed", map[string]any{"releaseId": releaseID})
}
