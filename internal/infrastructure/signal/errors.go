package signal

import (
	"errors"

	"meshlink/internal/core/domain"
	apperrors "meshlink/pkg/errors"
)

// errorCode maps domain sentinels to the stable wire codes carried in
// acknowledgement frames.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return string(apperrors.ErrCodeRoomNotFound)
	case errors.Is(err, domain.ErrRoomFull):
		return string(apperrors.ErrCodeRoomFull)
	case errors.Is(err, domain.ErrDuplicateRoomID):
		return string(apperrors.ErrCodeDuplicateRoom)
	case errors.Is(err, domain.ErrAlreadyInRoom):
		return string(apperrors.ErrCodeAlreadyInRoom)
	case errors.Is(err, domain.ErrUnauthorized):
		return string(apperrors.ErrCodeUnauthorized)
	default:
		return string(apperrors.CodeOf(err))
	}
}
