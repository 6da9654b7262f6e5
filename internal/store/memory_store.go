package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"snos-license-server/internal/model"
)

// MemoryStore 内存实现,用于测试与无数据库部署。
// 外层读写锁只保护 key 索引,激活路径的互斥粒度是单个许可证,
// 不同 key 的激活请求互不竞争。
type MemoryStore struct {
	mu       sync.RWMutex
	licenses map[string]*memLicense
}

type memLicense struct {
	mu          sync.Mutex
	lic         model.License
	activations map[string]model.Activation // hwid -> activation
	nextActID   uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{licenses: make(map[string]*memLicense)}
}

func (s *MemoryStore) get(key string) (*memLicense, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.licenses[key]
	return rec, ok
}

func (s *MemoryStore) GetByKey(_ context.Context, key string) (*model.License, error) {
	rec, ok := s.get(key)
	if !ok {
		return nil, ErrLicenseNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	lic := rec.lic
	return &lic, nil
}

func (s *MemoryStore) Insert(_ context.Context, lic *model.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.licenses[lic.Key]; exists {
		return ErrDuplicateKey
	}
	s.licenses[lic.Key] = &memLicense{
		lic:         *lic,
		activations: make(map[string]model.Activation),
		nextActID:   1,
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.License, 0, len(s.licenses))
	for _, rec := range s.licenses {
		rec.mu.Lock()
		out = append(out, rec.lic)
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[key]; !ok {
		return ErrLicenseNotFound
	}
	delete(s.licenses, key)
	return nil
}

func (s *MemoryStore) GetActivation(_ context.Context, key, hwid string) (*model.Activation, error) {
	rec, ok := s.get(key)
	if !ok {
		return nil, ErrActivationNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	act, ok := rec.activations[hwid]
	if !ok {
		return nil, ErrActivationNotFound
	}
	return &act, nil
}

func (s *MemoryStore) ListActivations(_ context.Context, key string) ([]model.Activation, error) {
	rec, ok := s.get(key)
	if !ok {
		return nil, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]model.Activation, 0, len(rec.activations))
	for _, act := range rec.activations {
		out = append(out, act)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ActivatedAt.Before(out[j].ActivatedAt)
	})
	return out, nil
}

// InsertActivationIfQuotaAllows 持有该许可证的互斥锁完成检查+插入+计数,
// 对同一 key 的并发调用天然串行。
func (s *MemoryStore) InsertActivationIfQuotaAllows(_ context.Context, act *model.Activation) error {
	rec, ok := s.get(act.LicenseKey)
	if !ok {
		return ErrLicenseNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, exists := rec.activations[act.HWID]; exists {
		return ErrActivationExists
	}
	if rec.lic.ActiveCount >= rec.lic.MaxActivations {
		return ErrQuotaExceeded
	}
	act.ID = rec.nextActID
	rec.nextActID++
	rec.activations[act.HWID] = *act
	rec.lic.ActiveCount++
	return nil
}

func (s *MemoryStore) DeleteActivationsForKey(_ context.Context, key string) (int64, error) {
	rec, ok := s.get(key)
	if !ok {
		return 0, ErrLicenseNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	removed := int64(len(rec.activations))
	rec.activations = make(map[string]model.Activation)
	rec.lic.ActiveCount = 0
	return removed, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, key, status string) error {
	rec, ok := s.get(key)
	if !ok {
		return ErrLicenseNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.lic.Status = status
	rec.lic.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateExpiry(_ context.Context, key string, expiresAt time.Time) error {
	rec, ok := s.get(key)
	if !ok {
		return ErrLicenseNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.lic.ExpiresAt = expiresAt
	rec.lic.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateQuota(_ context.Context, key string, maxActivations int) error {
	rec, ok := s.get(key)
	if !ok {
		return ErrLicenseNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.lic.ActiveCount > maxActivations {
		return ErrQuotaBelowActive
	}
	rec.lic.MaxActivations = maxActivations
	rec.lic.UpdatedAt = time.Now()
	return nil
}
