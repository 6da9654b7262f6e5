// Package store 定义许可证存储的能力接口,引擎只依赖该接口,
// 不感知底层是 GORM 数据库还是内存实现。
package store

import (
	"context"
	"errors"
	"time"

	"snos-license-server/internal/model"
)

var (
	// ErrLicenseNotFound 许可证不存在
	ErrLicenseNotFound = errors.New("store: license not found")
	// ErrActivationNotFound 指定 (key, hwid) 没有激活记录
	ErrActivationNotFound = errors.New("store: activation not found")
	// ErrDuplicateKey 插入时密钥已存在
	ErrDuplicateKey = errors.New("store: duplicate license key")
	// ErrActivationExists 同一 (key, hwid) 已有激活记录
	ErrActivationExists = errors.New("store: activation already exists")
	// ErrQuotaExceeded 激活数已达上限
	ErrQuotaExceeded = errors.New("store: activation quota exceeded")
	// ErrQuotaBelowActive 新配额低于当前激活数
	ErrQuotaBelowActive = errors.New("store: quota below active count")
)

// Store 许可证存储接口。InsertActivationIfQuotaAllows 必须原子地完成
// 配额检查、激活记录插入和计数自增,并发调用同一 key 时不得超发。
type Store interface {
	GetByKey(ctx context.Context, key string) (*model.License, error)
	Insert(ctx context.Context, lic *model.License) error
	List(ctx context.Context) ([]model.License, error)
	Delete(ctx context.Context, key string) error

	GetActivation(ctx context.Context, key, hwid string) (*model.Activation, error)
	ListActivations(ctx context.Context, key string) ([]model.Activation, error)
	InsertActivationIfQuotaAllows(ctx context.Context, act *model.Activation) error
	DeleteActivationsForKey(ctx context.Context, key string) (int64, error)

	UpdateStatus(ctx context.Context, key, status string) error
	UpdateExpiry(ctx context.Context, key string, expiresAt time.Time) error
	UpdateQuota(ctx context.Context, key string, maxActivations int) error
}
