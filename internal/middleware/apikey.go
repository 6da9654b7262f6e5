package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// APIKey 机器管理接口的 X-API-Key 校验,常量时间比较
func APIKey(expected string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provided := c.Get("X-API-Key")
		if provided == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success":    false,
				"message":    "Unauthorized",
				"error_code": "INVALID_API_KEY",
			})
		}
		return c.Next()
	}
}
