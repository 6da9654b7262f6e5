package store

import (
	"context"
	"errors"
	"time"

	"snos-license-server/internal/model"

	"gorm.io/gorm"
)

// GormStore 基于 GORM 的持久化实现,支持 sqlite 与 postgres。
// 要求连接以 TranslateError 打开,唯一键冲突才能翻译为 gorm.ErrDuplicatedKey。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetByKey(ctx context.Context, key string) (*model.License, error) {
	var lic model.License
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lic, nil
}

func (s *GormStore) Insert(ctx context.Context, lic *model.License) error {
	err := s.db.WithContext(ctx).Create(lic).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return err
}

func (s *GormStore) List(ctx context.Context) ([]model.License, error) {
	var licenses []model.License
	err := s.db.WithContext(ctx).Order("created_at desc").Find(&licenses).Error
	return licenses, err
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("key = ?", key).Delete(&model.License{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrLicenseNotFound
		}
		return tx.Where("license_key = ?", key).Delete(&model.Activation{}).Error
	})
}

func (s *GormStore) GetActivation(ctx context.Context, key, hwid string) (*model.Activation, error) {
	var act model.Activation
	err := s.db.WithContext(ctx).
		Where("license_key = ? AND hw_id = ?", key, hwid).
		First(&act).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActivationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &act, nil
}

func (s *GormStore) ListActivations(ctx context.Context, key string) ([]model.Activation, error) {
	var acts []model.Activation
	err := s.db.WithContext(ctx).
		Where("license_key = ?", key).
		Order("activated_at asc").
		Find(&acts).Error
	return acts, err
}

// InsertActivationIfQuotaAllows 在单个事务内完成条件自增与插入。
// 条件 UPDATE 只在 active_count < max_activations 时生效,
// 同 key 的并发请求被行级写锁串行化,不可能同时越过配额。
func (s *GormStore) InsertActivationIfQuotaAllows(ctx context.Context, act *model.Activation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.License{}).
			Where("key = ? AND active_count < max_activations", act.LicenseKey).
			UpdateColumn("active_count", gorm.Expr("active_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 区分配额已满与许可证不存在
			var count int64
			if err := tx.Model(&model.License{}).
				Where("key = ?", act.LicenseKey).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrLicenseNotFound
			}
			return ErrQuotaExceeded
		}
		if err := tx.Create(act).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// 回滚计数自增,幂等语义由引擎处理
				return ErrActivationExists
			}
			return err
		}
		return nil
	})
}

func (s *GormStore) DeleteActivationsForKey(ctx context.Context, key string) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.License{}).
			Where("key = ?", key).
			UpdateColumn("active_count", 0)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrLicenseNotFound
		}
		del := tx.Where("license_key = ?", key).Delete(&model.Activation{})
		if del.Error != nil {
			return del.Error
		}
		removed = del.RowsAffected
		return nil
	})
	return removed, err
}

func (s *GormStore) UpdateStatus(ctx context.Context, key, status string) error {
	res := s.db.WithContext(ctx).Model(&model.License{}).
		Where("key = ?", key).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLicenseNotFound
	}
	return nil
}

func (s *GormStore) UpdateExpiry(ctx context.Context, key string, expiresAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.License{}).
		Where("key = ?", key).
		Updates(map[string]interface{}{"expires_at": expiresAt, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLicenseNotFound
	}
	return nil
}

// UpdateQuota 条件更新,禁止把配额降到当前激活数以下。
func (s *GormStore) UpdateQuota(ctx context.Context, key string, maxActivations int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.License{}).
			Where("key = ? AND active_count <= ?", key, maxActivations).
			Updates(map[string]interface{}{"max_activations": maxActivations, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.License{}).
				Where("key = ?", key).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrLicenseNotFound
			}
			return ErrQuotaBelowActive
		}
		return nil
	})
}
