package service

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// 引擎对外的错误类型。除 ErrStorageUnavailable 外都是确定性结果,
// 引擎内部不会重试,也不会把它们混同为成功。
var (
	ErrNotFound             = errors.New("license not found")
	ErrRevoked              = errors.New("license revoked")
	ErrExpired              = errors.New("license expired")
	ErrQuotaExceeded        = errors.New("maximum activations reached")
	ErrNotActivatedOnDevice = errors.New("license not activated on this device")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrQuotaBelowActive     = errors.New("quota below current activations")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrKeySpaceExhausted    = errors.New("key generation attempts exhausted")
)

// ErrorCode 返回客户端协议中的错误码,与原有客户端保持兼容
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "LICENSE_NOT_FOUND"
	case errors.Is(err, ErrRevoked):
		return "LICENSE_REVOKED"
	case errors.Is(err, ErrExpired):
		return "LICENSE_EXPIRED"
	case errors.Is(err, ErrQuotaExceeded):
		return "MAX_ACTIVATIONS"
	case errors.Is(err, ErrNotActivatedOnDevice):
		return "NOT_ACTIVATED"
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrQuotaBelowActive):
		return "INVALID_PARAMS"
	case errors.Is(err, ErrStorageUnavailable):
		return "STORAGE_UNAVAILABLE"
	case errors.Is(err, ErrKeySpaceExhausted):
		return "KEYGEN_EXHAUSTED"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus 错误码到 HTTP 状态码的映射
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrRevoked), errors.Is(err, ErrExpired), errors.Is(err, ErrQuotaExceeded):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrNotActivatedOnDevice):
		return fiber.StatusForbidden
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrQuotaBelowActive):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrStorageUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
