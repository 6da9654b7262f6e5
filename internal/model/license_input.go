package model

import "time"

// IssueInput 签发许可证的参数
type IssueInput struct {
	MaxActivations int    `json:"max_activations"`
	ValidDays      int    `json:"days_valid"`
	Notes          string `json:"notes"`
	Issuer         string `json:"created_by"`
}

// ActivationResult 激活成功后的许可证快照
type ActivationResult struct {
	License          *License  `json:"license"`
	AlreadyActivated bool      `json:"already_activated"`
	ActivatedAt      time.Time `json:"activation_time"`
}

// LicenseDetail 单个许可证详情,含全部激活记录
type LicenseDetail struct {
	License     *License     `json:"license"`
	Activations []Activation `json:"activations"`
}
