package handler

import (
	"errors"
	"log"
	"time"

	"snos-license-server/internal/database"
	"snos-license-server/internal/model"
	"snos-license-server/internal/service"
	"snos-license-server/internal/util"

	"github.com/gofiber/fiber/v2"
)

var (
	licenses  *service.LicenseService
	sheetSync *service.SheetSyncService
)

// Init 注入引擎与可选的表格同步服务
func Init(ls *service.LicenseService, ss *service.SheetSyncService) {
	licenses = ls
	sheetSync = ss
}

// actor 当前操作者,JWT 路由取用户名,API-Key 路由记为 api-key
func actor(c *fiber.Ctx) string {
	userID, ok := c.Locals("userID").(uint)
	if !ok {
		return "api-key"
	}
	var user model.User
	if err := database.DB.First(&user, userID).Error; err != nil {
		return "api-key"
	}
	return user.Username
}

// failJSON 错误统一输出 {success, message, error_code}
func failJSON(c *fiber.Ctx, err error) error {
	return c.Status(service.HTTPStatus(err)).JSON(fiber.Map{
		"success":    false,
		"message":    err.Error(),
		"error_code": service.ErrorCode(err),
	})
}

type GenerateInput struct {
	DaysValid      int    `json:"days_valid"`
	MaxActivations int    `json:"max_activations"`
	Count          int    `json:"count"`
	Notes          string `json:"notes"`
	CreatedBy      string `json:"created_by"`
}

// HandleLicenseGenerate 签发许可证,count > 1 时批量签发
func HandleLicenseGenerate(c *fiber.Ctx) error {
	input := new(GenerateInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"message":    "Invalid request body",
			"error_code": "INVALID_PARAMS",
		})
	}
	if input.DaysValid == 0 {
		input.DaysValid = 30
	}
	if input.MaxActivations == 0 {
		input.MaxActivations = 1
	}
	if input.Count == 0 {
		input.Count = 1
	}
	if input.Count < 0 || input.Count > 100 {
		return failJSON(c, service.ErrInvalidArgument)
	}

	in := model.IssueInput{
		MaxActivations: input.MaxActivations,
		ValidDays:      input.DaysValid,
		Notes:          input.Notes,
		Issuer:         input.CreatedBy,
	}

	issued, err := licenses.BatchIssue(c.Context(), in, input.Count)
	if err != nil {
		return failJSON(c, err)
	}

	service.LogOperation(actor(c), "generate", issued[0].Key, input)
	if sheetSync != nil {
		go func(batch []*model.License) {
			if err := sheetSync.BatchSyncLicenses(batch); err != nil {
				log.Printf("同步许可证到表格失败: %v", err)
			}
		}(issued)
	}

	if input.Count == 1 {
		lic := issued[0]
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success":         true,
			"license_key":     lic.Key,
			"expires_at":      lic.ExpiresAt,
			"max_activations": lic.MaxActivations,
			"notes":           lic.Notes,
			"created_by":      lic.Issuer,
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"count":    len(issued),
		"licenses": issued,
	})
}

type ActivateInput struct {
	LicenseKey string           `json:"license_key"`
	HWID       string           `json:"hwid"`
	DeviceInfo model.ClientMeta `json:"device_info"`
}

// HandleLicenseActivate 设备激活
func HandleLicenseActivate(c *fiber.Ctx) error {
	input := new(ActivateInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"message":    "Invalid request body",
			"error_code": "INVALID_PARAMS",
		})
	}
	if input.LicenseKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"message":    "License key is required",
			"error_code": "MISSING_KEY",
		})
	}
	if input.HWID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"message":    "HWID is required",
			"error_code": "MISSING_HWID",
		})
	}
	// 格式不合法的密钥不可能存在,不必查库
	if !util.ValidKeyFormat(input.LicenseKey) {
		service.RecordUsage(input.LicenseKey, input.HWID, "activate", service.ErrorCode(service.ErrNotFound), c.IP(), c.Get("User-Agent"))
		return failJSON(c, service.ErrNotFound)
	}

	meta := input.DeviceInfo
	meta.IPAddress = c.IP()
	meta.UserAgent = c.Get("User-Agent")

	result, err := licenses.Activate(c.Context(), input.LicenseKey, input.HWID, meta)
	if err != nil {
		service.RecordUsage(input.LicenseKey, input.HWID, "activate", service.ErrorCode(err), c.IP(), c.Get("User-Agent"))
		return failJSON(c, err)
	}

	outcome := "accepted"
	message := "License activated successfully"
	if result.AlreadyActivated {
		outcome = "already_activated"
		message = "License already activated on this device"
	}
	service.RecordUsage(input.LicenseKey, input.HWID, "activate", outcome, c.IP(), c.Get("User-Agent"))

	return c.JSON(fiber.Map{
		"success":             true,
		"message":             message,
		"license_key":         input.LicenseKey,
		"hwid":                input.HWID,
		"already_activated":   result.AlreadyActivated,
		"activation_time":     result.ActivatedAt,
		"expires_at":          result.License.ExpiresAt,
		"max_activations":     result.License.MaxActivations,
		"current_activations": result.License.ActiveCount,
	})
}

type ValidateInput struct {
	LicenseKey string `json:"license_key"`
	HWID       string `json:"hwid"`
}

// HandleLicenseValidate 只读校验,客户端每次启动都会调用
func HandleLicenseValidate(c *fiber.Ctx) error {
	input := new(ValidateInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"valid":      false,
			"message":    "Invalid request body",
			"error_code": "INVALID_PARAMS",
		})
	}
	if input.LicenseKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"valid":      false,
			"message":    "No license key provided",
			"error_code": "MISSING_KEY",
		})
	}
	if !util.ValidKeyFormat(input.LicenseKey) {
		service.RecordUsage(input.LicenseKey, input.HWID, "validate", service.ErrorCode(service.ErrNotFound), c.IP(), c.Get("User-Agent"))
		return c.JSON(fiber.Map{
			"valid":      false,
			"message":    service.ErrNotFound.Error(),
			"error_code": service.ErrorCode(service.ErrNotFound),
			"expired":    false,
		})
	}

	lic, err := licenses.Validate(c.Context(), input.LicenseKey, input.HWID)
	if err != nil {
		service.RecordUsage(input.LicenseKey, input.HWID, "validate", service.ErrorCode(err), c.IP(), c.Get("User-Agent"))
		// 校验结论是正常业务响应,走 200 + valid:false,
		// 非 2xx 只留给参数错误和存储故障
		status := service.HTTPStatus(err)
		switch {
		case errors.Is(err, service.ErrNotFound),
			errors.Is(err, service.ErrRevoked),
			errors.Is(err, service.ErrExpired),
			errors.Is(err, service.ErrNotActivatedOnDevice):
			status = fiber.StatusOK
		}
		return c.Status(status).JSON(fiber.Map{
			"valid":      false,
			"message":    err.Error(),
			"error_code": service.ErrorCode(err),
			"expired":    errors.Is(err, service.ErrExpired),
		})
	}
	service.RecordUsage(input.LicenseKey, input.HWID, "validate", "valid", c.IP(), c.Get("User-Agent"))

	return c.JSON(fiber.Map{
		"valid":               true,
		"message":             "License is valid",
		"expires_at":          lic.ExpiresAt,
		"max_activations":     lic.MaxActivations,
		"current_activations": lic.ActiveCount,
	})
}

// HandleLicenseRevoke 吊销许可证,幂等
func HandleLicenseRevoke(c *fiber.Ctx) error {
	key := c.Params("key")
	if err := licenses.Revoke(c.Context(), key); err != nil {
		return failJSON(c, err)
	}

	service.LogOperation(actor(c), "revoke", key, nil)
	if sheetSync != nil {
		go syncByKey(key)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "License " + key + " has been revoked",
	})
}

type ExtendInput struct {
	Days       int  `json:"days"`
	Reactivate bool `json:"reactivate"`
}

// HandleLicenseExtend 续期。默认不恢复吊销状态,必须显式传 reactivate
func HandleLicenseExtend(c *fiber.Ctx) error {
	key := c.Params("key")
	input := new(ExtendInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"message":    "Invalid request body",
			"error_code": "INVALID_PARAMS",
		})
	}
	if input.Days == 0 {
		input.Days = 30
	}

	newExpiry, err := licenses.Extend(c.Context(), key, input.Days, input.Reactivate)
	if err != nil {
		return failJSON(c, err)
	}

	service.LogOperation(actor(c), "extend", key, input)
	if sheetSync != nil {
		go syncByKey(key)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"message":    "License extended",
		"new_expiry": newExpiry,
	})
}

// HandleLicenseReset 清空激活记录,释放全部设备槽位
func HandleLicenseReset(c *fiber.Ctx) error {
	key := c.Params("key")
	removed, err := licenses.Reset(c.Context(), key)
	if err != nil {
		return failJSON(c, err)
	}

	service.LogOperation(actor(c), "reset", key, fiber.Map{"removed": removed})

	return c.JSON(fiber.Map{
		"success":             true,
		"message":             "Activations cleared",
		"removed_activations": removed,
	})
}

type UpdateInput struct {
	MaxActivations int `json:"max_activations"`
}

// HandleLicenseUpdate 调整激活配额
func HandleLicenseUpdate(c *fiber.Ctx) error {
	key := c.Params("key")
	input := new(UpdateInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"message":    "Invalid request body",
			"error_code": "INVALID_PARAMS",
		})
	}

	if err := licenses.UpdateQuota(c.Context(), key, input.MaxActivations); err != nil {
		return failJSON(c, err)
	}

	service.LogOperation(actor(c), "update_quota", key, input)
	if sheetSync != nil {
		go syncByKey(key)
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"message":         "License updated",
		"max_activations": input.MaxActivations,
	})
}

// HandleLicenseDelete 删除许可证及其激活记录
func HandleLicenseDelete(c *fiber.Ctx) error {
	key := c.Params("key")
	if err := licenses.Delete(c.Context(), key); err != nil {
		return failJSON(c, err)
	}

	service.LogOperation(actor(c), "delete", key, nil)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "License deleted",
	})
}

// HandleGetLicense 单个许可证详情
func HandleGetLicense(c *fiber.Ctx) error {
	key := c.Params("key")
	detail, err := licenses.Get(c.Context(), key)
	if err != nil {
		return failJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"success":          true,
		"license":          detail.License,
		"status":           detail.License.DisplayStatus(time.Now()),
		"activations":      detail.Activations,
		"activation_count": len(detail.Activations),
	})
}

// HandleGetAllLicenses 许可证列表
func HandleGetAllLicenses(c *fiber.Ctx) error {
	list, err := licenses.List(c.Context())
	if err != nil {
		return failJSON(c, err)
	}

	now := time.Now()
	items := make([]fiber.Map, 0, len(list))
	for i := range list {
		items = append(items, fiber.Map{
			"license": list[i],
			"status":  list[i].DisplayStatus(now),
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"total":    len(items),
		"licenses": items,
	})
}

// HandleLicenseUsage 查询许可证最近的使用记录
func HandleLicenseUsage(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"message":    "License key is required",
			"error_code": "MISSING_KEY",
		})
	}

	usages, err := service.GetLicenseUsage(key, c.QueryInt("limit", 20))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success":    false,
			"message":    "Failed to load usage records",
			"error_code": "INTERNAL_ERROR",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"usages":  usages,
	})
}

// syncByKey 按 key 取最新状态后同步到表格
func syncByKey(key string) {
	var lic model.License
	if err := database.DB.Where("key = ?", key).First(&lic).Error; err != nil {
		return
	}
	if err := sheetSync.SyncLicense(&lic); err != nil {
		log.Printf("同步许可证到表格失败: %v", err)
	}
}
