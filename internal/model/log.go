package model

import "time"

// OperationLog 管理操作审计日志(签发/吊销/续期/重置等)
type OperationLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Actor     string    `json:"actor"` // 管理员用户名或 "api-key"
	Action    string    `json:"action"`
	Target    string    `json:"target"` // 许可证密钥
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
