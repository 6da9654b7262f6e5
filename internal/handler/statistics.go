package handler

import (
	"time"

	"snos-license-server/internal/database"
	"snos-license-server/internal/model"

	"github.com/gofiber/fiber/v2"
)

// HandleLicenseStatistics 许可证统计。读取统计聚合侧的数据,
// 允许滞后于激活路径,不在引擎一致性边界内。
func HandleLicenseStatistics(c *fiber.Ctx) error {
	startDate := c.Query("start_date")
	endDate := c.Query("end_date")

	var start, end time.Time
	var err error

	if startDate != "" {
		start, err = time.Parse("2006-01-02", startDate)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"code":    400,
				"message": "开始日期格式错误",
				"errors": []fiber.Map{
					{"field": "start_date", "message": "日期格式应为 YYYY-MM-DD"},
				},
			})
		}
	} else {
		start = time.Now().AddDate(0, 0, -30)
	}

	if endDate != "" {
		end, err = time.Parse("2006-01-02", endDate)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"code":    400,
				"message": "结束日期格式错误",
				"errors": []fiber.Map{
					{"field": "end_date", "message": "日期格式应为 YYYY-MM-DD"},
				},
			})
		}
	} else {
		end = time.Now()
	}

	db := database.DB
	now := time.Now()

	stats := &model.LicenseStatistics{
		DailyUsage: make([]model.DailyStat, 0),
	}

	if err := db.Model(&model.License{}).Count(&stats.TotalLicenses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code":    500,
			"message": "获取许可证总数失败",
		})
	}

	if err := db.Model(&model.License{}).
		Where("status = ? AND expires_at > ?", model.StatusActive, now).
		Count(&stats.ActiveLicenses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code":    500,
			"message": "获取活跃许可证数失败",
		})
	}

	// 过期是派生状态:status 仍为 active 但已过到期时间
	if err := db.Model(&model.License{}).
		Where("status = ? AND expires_at <= ?", model.StatusActive, now).
		Count(&stats.ExpiredLicenses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code":    500,
			"message": "获取过期许可证数失败",
		})
	}

	// 30天内到期
	thirtyDaysLater := now.AddDate(0, 0, 30)
	if err := db.Model(&model.License{}).
		Where("status = ? AND expires_at > ? AND expires_at <= ?", model.StatusActive, now, thirtyDaysLater).
		Count(&stats.ExpiringLicenses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code":    500,
			"message": "获取即将过期许可证数失败",
		})
	}

	if err := db.Model(&model.License{}).
		Where("status = ?", model.StatusRevoked).
		Count(&stats.RevokedLicenses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code":    500,
			"message": "获取已吊销许可证数失败",
		})
	}

	if err := db.Model(&model.Activation{}).Count(&stats.TotalActivations).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code":    500,
			"message": "获取激活总数失败",
		})
	}

	if err := db.Model(&model.DailyStat{}).
		Where("date BETWEEN ? AND ?", start.Format("2006-01-02"), end.Format("2006-01-02")).
		Order("date ASC").
		Find(&stats.DailyUsage).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code":    500,
			"message": "获取每日统计失败",
		})
	}

	return c.JSON(fiber.Map{
		"code":    200,
		"message": "success",
		"data":    stats,
	})
}
