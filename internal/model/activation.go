package model

import "time"

// Activation 设备激活记录,(license_key, hwid) 全局唯一
type Activation struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	LicenseKey  string    `json:"license_key" gorm:"index;uniqueIndex:idx_license_hwid;not null"`
	HWID        string    `json:"hwid" gorm:"uniqueIndex:idx_license_hwid;not null"`
	DeviceName  string    `json:"device_name"`
	Platform    string    `json:"platform"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
	ActivatedAt time.Time `json:"activation_time" gorm:"not null"`
}

// ClientMeta 激活请求携带的设备描述信息,仅用于记录
type ClientMeta struct {
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
}
