package main

import (
	"log"

	"snos-license-server/internal/config"
	"snos-license-server/internal/database"
	"snos-license-server/internal/handler"
	"snos-license-server/internal/middleware"
	"snos-license-server/internal/service"
	"snos-license-server/internal/store"
	"snos-license-server/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

func main() {
	cfg := config.Load()
	util.SetJWTSecret(cfg.JWTSecret)

	// 初始化数据库
	database.InitDB(cfg)

	// 统计聚合,异步消费引擎事件
	stats := service.NewStatsService(database.DB)
	stats.Start()

	// 激活引擎,存储以接口注入
	licenseService := service.NewLicenseService(store.NewGormStore(database.DB), stats, cfg.KeyPrefix)

	// 可选的 Google Sheet 镜像
	sheetSync, err := service.NewSheetSyncService(
		cfg.SheetSyncEnabled, cfg.SheetCredentialPath, cfg.SpreadsheetID, cfg.SheetName)
	if err != nil {
		log.Printf("表格同步初始化失败,已禁用: %v", err)
	}

	handler.Init(licenseService, sheetSync)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// 中间件
	app.Use(logger.New())
	app.Use(cors.New())

	app.Get("/", handler.HandleServiceInfo)

	// 路由组
	api := app.Group("/api/v1")
	api.Get("/test", handler.HandlePing)

	// 认证路由
	auth := api.Group("/auth")
	auth.Post("/validate-token", handler.HandleValidateToken)
	auth.Post("/change-password", middleware.Auth(), handler.HandleChangePassword)

	// 用户路由
	users := api.Group("/users")
	users.Post("/register", middleware.Auth(), middleware.AdminOnly(), handler.HandleUserRegister)
	users.Post("/login", handler.HandleUserLogin)
	users.Get("/info", middleware.Auth(), handler.HandleUserInfo)
	users.Get("/login-logs", middleware.Auth(), handler.HandleGetLoginLogs)

	// 许可证路由,激活与校验是客户端公开接口
	licenses := api.Group("/licenses")
	licenses.Post("/activate", handler.HandleLicenseActivate)
	licenses.Post("/validate", handler.HandleLicenseValidate)

	// 管理员专用路由,X-API-Key 校验
	admin := licenses.Group("", middleware.APIKey(cfg.AdminAPIKey))
	admin.Post("/generate", handler.HandleLicenseGenerate)
	admin.Get("", handler.HandleGetAllLicenses)
	admin.Get("/:key", handler.HandleGetLicense)
	admin.Put("/:key", handler.HandleLicenseUpdate)
	admin.Delete("/:key", handler.HandleLicenseDelete)
	admin.Post("/:key/revoke", handler.HandleLicenseRevoke)
	admin.Post("/:key/extend", handler.HandleLicenseExtend)
	admin.Post("/:key/reset", handler.HandleLicenseReset)
	admin.Get("/:key/usage", handler.HandleLicenseUsage)

	// 统计与审计
	api.Get("/stats", middleware.APIKey(cfg.AdminAPIKey), handler.HandleLicenseStatistics)
	api.Get("/logs", middleware.Auth(), middleware.AdminOnly(), handler.HandleGetLogs)

	// log.Fatal 不跑 defer,监听退出后先排空统计队列
	listenErr := app.Listen(":" + cfg.Port)
	stats.Stop()
	if listenErr != nil {
		log.Fatal(listenErr)
	}
}
