package service

import (
	"encoding/json"
	"time"

	"snos-license-server/internal/database"
	"snos-license-server/internal/model"
)

// LogOperation 记录一次管理操作(签发/吊销/续期/重置/删除)
func LogOperation(actor, action, target string, details interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	entry := &model.OperationLog{
		Actor:     actor,
		Action:    action,
		Target:    target,
		Details:   string(detailsJSON),
		CreatedAt: time.Now(),
	}

	return database.DB.Create(entry).Error
}

// RecordUsage 记录一次激活/校验请求的结果,尽力而为
func RecordUsage(key, hwid, action, outcome, ip, userAgent string) {
	usage := &model.LicenseUsage{
		LicenseKey: key,
		HWID:       hwid,
		Action:     action,
		Outcome:    outcome,
		IPAddress:  ip,
		UserAgent:  userAgent,
		Timestamp:  time.Now(),
	}
	database.DB.Create(usage)
}

// GetOperationLogs 分页获取管理操作日志
func GetOperationLogs(page, pageSize int) ([]model.OperationLog, int64, error) {
	var logs []model.OperationLog
	var total int64

	db := database.DB

	if err := db.Model(&model.OperationLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// GetLicenseUsage 获取指定许可证最近的使用记录
func GetLicenseUsage(key string, limit int) ([]model.LicenseUsage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var usages []model.LicenseUsage
	err := database.DB.
		Where("license_key = ?", key).
		Order("timestamp desc").
		Limit(limit).
		Find(&usages).Error
	return usages, err
}
