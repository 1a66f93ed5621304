// Package storeerr translates storage sentinels into service errors.
package storeerr

import (
	"errors"

	"github.com/R3E-Network/petition_service/internal/app/storage"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
)

// Translate maps err for an operation on resource id. Service errors pass
// through untouched; unknown failures become internal errors naming op.
func Translate(err error, resource string, id interface{}, op string) error {
	switch {
	case err == nil:
		return nil
	case apperrors.GetServiceError(err) != nil:
		return err
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NotFound(resource, id)
	case errors.Is(err, storage.ErrDuplicate):
		return apperrors.Conflict(resource + " already exists")
	default:
		return apperrors.Internal(op+" failed", err)
	}
}
