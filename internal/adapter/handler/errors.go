package handler

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/elixirhk/stockroom/internal/core/domain"
)

// retryAfterSeconds is sent with 503 responses for concurrency failures.
const retryAfterSeconds = "1"

func httpStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindPermission:
		return http.StatusForbidden
	case domain.KindConcurrency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(err error) codes.Code {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindConflict:
		return codes.FailedPrecondition
	case domain.KindPermission:
		return codes.PermissionDenied
	case domain.KindConcurrency:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// grpcError hides the message of internal errors from clients.
func grpcError(err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}
