package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

var startedAt = time.Now()

// HandleServiceInfo 服务信息与端点一览
func HandleServiceInfo(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "Snos Tool License Server",
		"version": "2.0.0",
		"status":  "online",
		"endpoints": fiber.Map{
			"GET /api/v1/test":                    "Test server connection",
			"POST /api/v1/licenses/activate":      "Activate a license on a device",
			"POST /api/v1/licenses/validate":      "Validate a license",
			"POST /api/v1/licenses/generate":      "Generate licenses (admin)",
			"POST /api/v1/licenses/:key/revoke":   "Revoke a license (admin)",
			"POST /api/v1/licenses/:key/extend":   "Extend a license (admin)",
			"POST /api/v1/licenses/:key/reset":    "Clear activations (admin)",
			"GET /api/v1/licenses":                "List licenses (admin)",
			"GET /api/v1/licenses/:key":           "License details (admin)",
			"GET /api/v1/stats":                   "Statistics (admin)",
		},
	})
}

// HandlePing 健康检查
func HandlePing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"uptime":    time.Since(startedAt).String(),
		"timestamp": time.Now(),
	})
}
