package database

import (
	"snos-license-server/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// InitTestDB 内存 sqlite 测试库
func InitTestDB() {
	var err error
	DB, err = gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{TranslateError: true})
	if err != nil {
		panic("failed to connect test database")
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
		panic("failed to migrate test database")
	}
}

func CleanTestDB() {
	sqlDB, err := DB.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
}
