package model

// DailyStat 每日统计,日期格式 YYYY-MM-DD
type DailyStat struct {
	Date              string `json:"date" gorm:"primaryKey"`
	LicensesGenerated int    `json:"licenses_generated"`
	LicensesActivated int    `json:"licenses_activated"`
	UniqueHwids       int    `json:"unique_hwids"`
}

// LicenseStatistics 许可证统计信息
type LicenseStatistics struct {
	TotalLicenses    int64       `json:"total_licenses"`
	ActiveLicenses   int64       `json:"active_licenses"`
	ExpiredLicenses  int64       `json:"expired_licenses"`
	ExpiringLicenses int64       `json:"expiring_licenses"`
	RevokedLicenses  int64       `json:"revoked_licenses"`
	TotalActivations int64       `json:"total_activations"`
	DailyUsage       []DailyStat `json:"daily_usage"`
}

// GetActivationRate 计算平均每个许可证的激活数
func (ls *LicenseStatistics) GetActivationRate() float64 {
	if ls.TotalLicenses == 0 {
		return 0
	}
	return float64(ls.TotalActivations) / float64(ls.TotalLicenses)
}
