package database

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snos-license-server/internal/config"
	"snos-license-server/internal/model"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitDB 建立数据库连接并迁移表结构。
// TranslateError 必须开启,存储层依赖 gorm.ErrDuplicatedKey 识别唯一键冲突。
func InitDB(cfg *config.Config) {
	var err error
	gormCfg := &gorm.Config{TranslateError: true}

	dsn := cfg.DatabaseDSN
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		DB, err = gorm.Open(postgres.Open(dsn), gormCfg)
	} else {
		if dsn == "" {
			dataDir := "data"
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				log.Fatal("创建数据目录失败:", err)
			}
			dsn = filepath.Join(dataDir, "license.db")
		}
		DB, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	}
	if err != nil {
		log.Fatal("数据库连接失败:", err)
	}

	err = DB.AutoMigrate(
		&model.User{},
		&model.License{},
		&model.Activation{},
		&model.LicenseUsage{},
		&model.OperationLog{},
		&model.LoginLog{},
		&model.DailyStat{},
	)
	if err != nil {
		log.Fatal("数据库迁移失败:", err)
	}

	seedAdmin()
}

// seedAdmin 首次启动创建默认管理员账户
func seedAdmin() {
	var adminCount int64
	DB.Model(&model.User{}).Where("username = ?", "admin").Count(&adminCount)
	if adminCount > 0 {
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("生成密码哈希失败:", err)
	}

	admin := &model.User{
		Username:  "admin",
		Password:  string(hashedPassword),
		Email:     "admin@example.com",
		Role:      "admin",
		Status:    "active",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := DB.Create(admin).Error; err != nil {
		log.Fatal("创建管理员账户失败:", err)
	}

	log.Println("已创建默认管理员账户")
}
