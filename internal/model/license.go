package model

import (
	"time"
)

// 许可证状态
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

type License struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	Key            string    `json:"license_key" gorm:"uniqueIndex;not null"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"not null"`
	MaxActivations int       `json:"max_activations" gorm:"not null;default:1"`
	ActiveCount    int       `json:"current_activations" gorm:"not null;default:0"`
	Status         string    `json:"status" gorm:"not null;default:'active'"`
	Notes          string    `json:"notes"`
	Issuer         string    `json:"created_by"`
	Source         string    `json:"source" gorm:"default:'server'"`
}

// IsExpired 判断许可证在 now 时刻是否已过期
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// DisplayStatus 列表展示用状态,过期的 active 许可证显示为 expired
func (l *License) DisplayStatus(now time.Time) string {
	if l.Status == StatusActive && l.IsExpired(now) {
		return "expired"
	}
	return l.Status
}
