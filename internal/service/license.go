package service

import (
	"context"
	"errors"
	"time"

	"snos-license-server/internal/model"
	"snos-license-server/internal/store"
	"snos-license-server/internal/util"

	"github.com/google/uuid"
)

const (
	defaultOpTimeout    = 5 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBackoff = 50 * time.Millisecond
	// 新密钥入库的最大尝试次数,碰撞时换新密钥重试
	maxKeyAttempts = 5
)

// LicenseService 许可证激活与生命周期引擎。
// 所有判定顺序固定:不存在 → 已吊销 → 已过期 → 幂等命中 → 配额。
// 配额检查与激活写入的原子性由 store 保证,引擎自身无共享可变状态。
type LicenseService struct {
	store  store.Store
	events EventSink
	prefix string

	now          func() time.Time
	opTimeout    time.Duration
	maxRetries   int
	retryBackoff time.Duration
}

func NewLicenseService(st store.Store, events EventSink, prefix string) *LicenseService {
	if prefix == "" {
		prefix = "SNOS"
	}
	return &LicenseService{
		store:        st,
		events:       events,
		prefix:       prefix,
		now:          time.Now,
		opTimeout:    defaultOpTimeout,
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
	}
}

// mapStoreErr 存储层错误翻译为引擎错误
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrLicenseNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrQuotaExceeded):
		return ErrQuotaExceeded
	case errors.Is(err, store.ErrQuotaBelowActive):
		return ErrQuotaBelowActive
	default:
		return err
	}
}

// deterministic 判断错误是否为确定性结果,确定性错误不重试
func deterministic(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrRevoked, ErrExpired, ErrQuotaExceeded,
		ErrNotActivatedOnDevice, ErrInvalidArgument, ErrQuotaBelowActive,
		store.ErrDuplicateKey, store.ErrActivationExists, store.ErrActivationNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// withRetry 对瞬时存储故障做有限次重试,耗尽后上报 ErrStorageUnavailable。
// 每次调用带超时,存储卡死不会无限占住某个 key 的激活路径。
func (s *LicenseService) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		err = fn(opCtx)
		cancel()
		if err == nil || deterministic(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ErrStorageUnavailable
		case <-time.After(s.retryBackoff * time.Duration(attempt+1)):
		}
	}
	return ErrStorageUnavailable
}

func (s *LicenseService) publish(ev Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

// Issue 签发新许可证。密钥来自加密随机源,撞库时换新密钥重试,
// 绝不复用或修改已存在的密钥。
func (s *LicenseService) Issue(ctx context.Context, in model.IssueInput) (*model.License, error) {
	if in.MaxActivations <= 0 || in.ValidDays <= 0 {
		return nil, ErrInvalidArgument
	}
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := util.GenerateKey(s.prefix)
		if err != nil {
			return nil, err
		}
		now := s.now()
		lic := &model.License{
			ID:             uuid.NewString(),
			Key:            key,
			CreatedAt:      now,
			UpdatedAt:      now,
			ExpiresAt:      now.AddDate(0, 0, in.ValidDays),
			MaxActivations: in.MaxActivations,
			ActiveCount:    0,
			Status:         model.StatusActive,
			Notes:          in.Notes,
			Issuer:         in.Issuer,
			Source:         "server",
		}
		err = s.withRetry(ctx, func(ctx context.Context) error {
			return s.store.Insert(ctx, lic)
		})
		if errors.Is(err, store.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return nil, mapStoreErr(err)
		}
		s.publish(Event{Kind: EventLicenseIssued, LicenseKey: key, At: now})
		return lic, nil
	}
	return nil, ErrKeySpaceExhausted
}

// BatchIssue 批量签发,逐个调用 Issue
func (s *LicenseService) BatchIssue(ctx context.Context, in model.IssueInput, count int) ([]*model.License, error) {
	if count <= 0 {
		return nil, ErrInvalidArgument
	}
	licenses := make([]*model.License, 0, count)
	for i := 0; i < count; i++ {
		lic, err := s.Issue(ctx, in)
		if err != nil {
			return licenses, err
		}
		licenses = append(licenses, lic)
	}
	return licenses, nil
}

// Activate 设备激活。同一 (key, hwid) 重复激活是幂等成功,不消耗配额。
func (s *LicenseService) Activate(ctx context.Context, key, hwid string, meta model.ClientMeta) (*model.ActivationResult, error) {
	if key == "" || hwid == "" {
		return nil, ErrInvalidArgument
	}
	var result *model.ActivationResult
	err := s.withRetry(ctx, func(ctx context.Context) error {
		lic, err := s.store.GetByKey(ctx, key)
		if err != nil {
			return mapStoreErr(err)
		}
		if lic.Status == model.StatusRevoked {
			return ErrRevoked
		}
		now := s.now()
		if lic.IsExpired(now) {
			return ErrExpired
		}

		existing, err := s.store.GetActivation(ctx, key, hwid)
		if err != nil && !errors.Is(err, store.ErrActivationNotFound) {
			return err
		}
		if existing != nil {
			result = &model.ActivationResult{
				License:          lic,
				AlreadyActivated: true,
				ActivatedAt:      existing.ActivatedAt,
			}
			return nil
		}

		act := &model.Activation{
			LicenseKey:  key,
			HWID:        hwid,
			DeviceName:  meta.DeviceName,
			Platform:    meta.Platform,
			IPAddress:   meta.IPAddress,
			UserAgent:   meta.UserAgent,
			ActivatedAt: now,
		}
		err = s.store.InsertActivationIfQuotaAllows(ctx, act)
		if errors.Is(err, store.ErrActivationExists) {
			// 与同设备的并发激活竞争,按幂等成功处理
			won, gerr := s.store.GetActivation(ctx, key, hwid)
			if gerr != nil {
				return gerr
			}
			result = &model.ActivationResult{
				License:          lic,
				AlreadyActivated: true,
				ActivatedAt:      won.ActivatedAt,
			}
			return nil
		}
		if err != nil {
			return mapStoreErr(err)
		}
		lic.ActiveCount++
		result = &model.ActivationResult{
			License:          lic,
			AlreadyActivated: false,
			ActivatedAt:      act.ActivatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.AlreadyActivated {
		s.publish(Event{Kind: EventLicenseActivated, LicenseKey: key, HWID: hwid, At: result.ActivatedAt})
	}
	return result, nil
}

// Validate 只读校验,不消耗配额不改状态。hwid 为空时只校验许可证本身,
// 否则额外要求该设备已有激活记录。
func (s *LicenseService) Validate(ctx context.Context, key, hwid string) (*model.License, error) {
	if key == "" {
		return nil, ErrInvalidArgument
	}
	var lic *model.License
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		lic, err = s.store.GetByKey(ctx, key)
		if err != nil {
			return mapStoreErr(err)
		}
		if lic.Status == model.StatusRevoked {
			return ErrRevoked
		}
		if lic.IsExpired(s.now()) {
			return ErrExpired
		}
		if hwid != "" {
			if _, err := s.store.GetActivation(ctx, key, hwid); err != nil {
				if errors.Is(err, store.ErrActivationNotFound) {
					return ErrNotActivatedOnDevice
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lic, nil
}

// Revoke 吊销许可证,幂等,不触碰激活历史与计数
func (s *LicenseService) Revoke(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidArgument
	}
	return s.withRetry(ctx, func(ctx context.Context) error {
		return mapStoreErr(s.store.UpdateStatus(ctx, key, model.StatusRevoked))
	})
}

// Extend 从当前到期时间叠加天数,未到期的许可证正确累加。
// 吊销状态默认保持不变,只有显式传 reactivate 才恢复为 active。
func (s *LicenseService) Extend(ctx context.Context, key string, days int, reactivate bool) (time.Time, error) {
	if key == "" || days <= 0 {
		return time.Time{}, ErrInvalidArgument
	}
	var newExpiry time.Time
	err := s.withRetry(ctx, func(ctx context.Context) error {
		lic, err := s.store.GetByKey(ctx, key)
		if err != nil {
			return mapStoreErr(err)
		}
		newExpiry = lic.ExpiresAt.AddDate(0, 0, days)
		if err := s.store.UpdateExpiry(ctx, key, newExpiry); err != nil {
			return mapStoreErr(err)
		}
		if reactivate && lic.Status == model.StatusRevoked {
			return mapStoreErr(s.store.UpdateStatus(ctx, key, model.StatusActive))
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return newExpiry, nil
}

// UpdateQuota 提高激活上限,不允许低于当前激活数
func (s *LicenseService) UpdateQuota(ctx context.Context, key string, maxActivations int) error {
	if key == "" || maxActivations <= 0 {
		return ErrInvalidArgument
	}
	return s.withRetry(ctx, func(ctx context.Context) error {
		return mapStoreErr(s.store.UpdateQuota(ctx, key, maxActivations))
	})
}

// Reset 清空全部激活记录并归零计数,释放所有设备槽位,
// 不改变状态与到期时间。返回删除的激活记录数。
func (s *LicenseService) Reset(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrInvalidArgument
	}
	var removed int64
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		removed, err = s.store.DeleteActivationsForKey(ctx, key)
		return mapStoreErr(err)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Get 查询单个许可证及其激活记录
func (s *LicenseService) Get(ctx context.Context, key string) (*model.LicenseDetail, error) {
	if key == "" {
		return nil, ErrInvalidArgument
	}
	var detail *model.LicenseDetail
	err := s.withRetry(ctx, func(ctx context.Context) error {
		lic, err := s.store.GetByKey(ctx, key)
		if err != nil {
			return mapStoreErr(err)
		}
		acts, err := s.store.ListActivations(ctx, key)
		if err != nil {
			return err
		}
		detail = &model.LicenseDetail{License: lic, Activations: acts}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// List 列出全部许可证
func (s *LicenseService) List(ctx context.Context) ([]model.License, error) {
	var licenses []model.License
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		licenses, err = s.store.List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return licenses, nil
}

// Delete 管理端删除许可证及其激活记录,引擎生命周期之外的数据操作
func (s *LicenseService) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidArgument
	}
	return s.withRetry(ctx, func(ctx context.Context) error {
		return mapStoreErr(s.store.Delete(ctx, key))
	})
}
