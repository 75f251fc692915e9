package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrDuplicateName  = fmt.Errorf("group name already taken")
	ErrInvalidName    = fmt.Errorf("group name is empty or blank")
	ErrNotFound       = fmt.Errorf("resource not found")
	ErrNotAMember     = fmt.Errorf("user is not a member of the group")
	ErrInvalidContent = fmt.Errorf("message content is invalid")
	ErrAuthorization  = fmt.Errorf("wrong or missing group password")
	ErrWorkerPanic    = fmt.Errorf("worker panic")
)

// MapToHTTPStatus translates domain errors into transport status codes.
// Anything unknown is reported as an internal failure.
func MapToHTTPStatus(err error) int {
	switch {
	case stderrors.Is(err, ErrDuplicateName):
		return http.StatusConflict
	case stderrors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, ErrNotAMember), stderrors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case stderrors.Is(err, ErrInvalidContent), stderrors.Is(err, ErrInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
