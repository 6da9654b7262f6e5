package model

import "time"

// LicenseUsage 许可证使用记录,按 key 记录激活/校验的结果
type LicenseUsage struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	LicenseKey string    `json:"license_key" gorm:"index"`
	HWID       string    `json:"hwid"`
	Action     string    `json:"action"` // "activate", "validate"
	Outcome    string    `json:"outcome"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	Timestamp  time.Time `json:"timestamp"`
}
