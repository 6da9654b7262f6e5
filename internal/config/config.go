package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config 服务配置,来自 .env 与环境变量
type Config struct {
	Port        string
	DatabaseDSN string // 以 postgres:// 开头走 postgres,否则按 sqlite 文件路径处理
	AdminAPIKey string
	JWTSecret   string
	KeyPrefix   string

	SheetSyncEnabled    bool
	SheetCredentialPath string
	SpreadsheetID       string
	SheetName           string
}

// Load 读取配置,.env 不存在时只用环境变量
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("未找到 .env 文件,使用环境变量")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseDSN: getEnv("DATABASE_DSN", ""),
		AdminAPIKey: getEnv("ADMIN_API_KEY", "default-secret-key"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		KeyPrefix:   getEnv("KEY_PREFIX", "SNOS"),

		SheetSyncEnabled:    getEnv("SHEET_SYNC_ENABLED", "") == "true",
		SheetCredentialPath: getEnv("SHEET_CREDENTIAL_PATH", "credentials.json"),
		SpreadsheetID:       getEnv("SPREADSHEET_ID", ""),
		SheetName:           getEnv("SHEET_NAME", "licenses"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
