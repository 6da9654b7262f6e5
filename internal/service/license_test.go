package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"snos-license-server/internal/model"
	"snos-license-server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink 测试用事件收集器
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) byKind(kind EventKind) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestService() (*LicenseService, *captureSink) {
	sink := &captureSink{}
	svc := NewLicenseService(store.NewMemoryStore(), sink, "SNOS")
	svc.retryBackoff = time.Millisecond
	return svc, sink
}

func TestIssueValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name  string
		input model.IssueInput
	}{
		{"zero_max_activations", model.IssueInput{MaxActivations: 0, ValidDays: 30}},
		{"negative_max_activations", model.IssueInput{MaxActivations: -1, ValidDays: 30}},
		{"zero_days", model.IssueInput{MaxActivations: 1, ValidDays: 0}},
		{"negative_days", model.IssueInput{MaxActivations: 1, ValidDays: -7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Issue(ctx, tt.input)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestIssueCreatesActiveLicense(t *testing.T) {
	svc, sink := newTestService()
	ctx := context.Background()

	lic, err := svc.Issue(ctx, model.IssueInput{MaxActivations: 3, ValidDays: 30, Notes: "测试", Issuer: "admin"})
	require.NoError(t, err)

	assert.NotEmpty(t, lic.ID)
	assert.Regexp(t, `^SNOS(-[A-Z0-9]{4}){5}$`, lic.Key)
	assert.Equal(t, model.StatusActive, lic.Status)
	assert.Equal(t, 0, lic.ActiveCount)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), lic.ExpiresAt, time.Minute)

	assert.Len(t, sink.byKind(EventLicenseIssued), 1)
}

func TestBatchIssue(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	batch, err := svc.BatchIssue(ctx, model.IssueInput{MaxActivations: 1, ValidDays: 7}, 5)
	require.NoError(t, err)
	require.Len(t, batch, 5)

	keys := make(map[string]bool)
	for _, lic := range batch {
		assert.False(t, keys[lic.Key], "批量签发的密钥必须各不相同")
		keys[lic.Key] = true
	}

	_, err = svc.BatchIssue(ctx, model.IssueInput{MaxActivations: 1, ValidDays: 7}, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestActivateUnknownKey(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Activate(context.Background(), "SNOS-NONE-0000-0000-0000-0000", "dev-a", model.ClientMeta{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivateIdempotentPerDevice(t *testing.T) {
	svc, sink := newTestService()
	ctx := context.Background()

	lic, err := svc.Issue(ctx, model.IssueInput{MaxActivations: 2, ValidDays: 30})
	require.NoError(t, err)

	first, err := svc.Activate(ctx, lic.Key, "dev-a", model.ClientMeta{DeviceName: "laptop"})
	require.NoError(t, err)
	assert.False(t, first.AlreadyActivated)
	assert.Equal(t, 1, first.License.ActiveCount)

	// 同设备重试,幂等成功且计数不变
	second, err := svc.Activate(ctx, lic.Key, "dev-a", model.ClientMeta{})
	require.NoError(t, err)
	assert.True(t, second.AlreadyActivated)
	assert.Equal(t, 1, second.License.ActiveCount)
	assert.Equal(t, first.ActivatedAt.Unix(), second.ActivatedAt.Unix())

	// 只有真正的激活发事件
	assert.Len(t, sink.byKind(EventLicenseActivated), 1)
}

// spec 场景:2 个槽位的完整生命周期
func TestActivateLifecycleScenario(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	lic, err := svc.Issue(ctx, model.IssueInput{MaxActivations: 2, ValidDays: 30})
	require.NoError(t, err)
	key := lic.Key

	resA, err := svc.Activate(ctx, key, "dev-A", model.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, 1, resA.License.ActiveCount)

	resA2, err := svc.Activate(ctx, key, "dev-A", model.ClientMeta{})
	require.NoError(t, err)
	assert.True(t, resA2.AlreadyActivated)
	assert.Equal(t, 1, resA2.License.ActiveCount)

	resB, err := svc.Activate(ctx, key, "dev-B", model.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, 2, resB.License.ActiveCount)

	_, err = svc.Activate(ctx, key, "dev-C", model.ClientMeta{})
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	require.NoError(t, svc.Revoke(ctx, key))

	_, err = svc.Validate(ctx, key, "")
	assert.ErrorIs(t, err, ErrRevoked)

	removed, err := svc.Reset(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	detail, err := svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, detail.License.ActiveCount)
	assert.Empty(t, detail.Activations)
	// Reset 不恢复吊销状态
	assert.Equal(t, model.StatusRevoked, detail.License.Status)
}

func TestActivateExpiryBoundary(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	lic, err := svc.Issue(ctx, model.IssueInput{MaxActivations: 1, ValidDays: 30})
	require.NoError(t, err)

	// 到期前 1 秒激活成功
	svc.now = func() time.Time { return lic.ExpiresAt.Add(-time.Second) }
	_, err = svc.Activate(ctx, lic.Key, "dev-a", model.ClientMeta{})
	require.NoError(t, err)

	// 过期后 1 秒拒绝
	svc.now = func() time.Time { return lic.ExpiresAt.Add(time.Second) }
	_, err = svc.Activate(ctx, lic.Key, "dev-b", model.ClientMeta{})
	assert.ErrorIs(t, err, ErrExpired)

	_, err = svc.Validate(ctx, lic.Key, "")
	assert.ErrorIs(t, err, ErrExpired)
}

// 既过期又吊销时,吊销优先
func TestRevokedBeforeExpired(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	lic, err := svc.Issue(ctx, model.IssueInput{MaxActivations: 1, ValidDays: 1})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, lic.Key))

	svc.now = func() time.Time { return lic.ExpiresAt.AddDate(0, 0, 7) }

	_, err = svc.Activate(ctx, lic.Key, "dev-a", model.ClientMeta{})
	assert.ErrorIs(t, err, ErrRevoked)

	_, err = svc.Validate(ctx, lic.Key, "")
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestValidateDeviceBinding(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	lic, err := svc.Issue(ctx, model.IssueInput{MaxActivations: 1, ValidDays: 30})
	require.NoError(t, err)

	// 未激活设备校验失败,不带 hwid 只查许可证本身
	_, err = svc.Validate(ctx, lic.Key, "dev-a")
	assert.ErrorIs(t, err, ErrNotActivatedOnDevice)

	_, err = svc.Validate(ctx, lic.Key, "")
	require.NoError(t, err)

	_, err = svc.Activate(ctx, lic.Key, "dev-a", model.ClientMeta{})
	require.NoError(t, err)

	got, err := svc.Validate(ctx, lic.Key, "dev-a")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ActiveCount)

	// Validate 不消耗配额
	for i := 0; i < 10; i++ {
		_, err = svc.Validate(ctx, lic.Key, "dev-a")
		require.NoError(t, err)
	}
	got, err = svc.Validate(ctx, lic.Key, "dev-a")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ActiveCount)
}

// 50 个设备并发抢 1 个槽位,只能有一个成功
func TestConcurrentActivationSingleSlot(t *testing.T) {
	svc, sink := newTestService()
	ctx := context.Background()

	lic, err := svc.Issue(ctx, model.IssueInput{MaxActivations: 1, ValidDays: 30})
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, quotaRejected, other := 0, 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Activate(ctx, lic.Key, fmt.Sprintf("dev-%02d", n), model.ClientMeta{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrQuotaExceeded):
				quotaRejected++
			default:
				other++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, workers-1, quotaRejected)
	assert.Zero(t, other)

	detail, err := svc.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, detail.License.ActiveCount)
	assert.Len(t, detail.Activations, 1)
	assert.Len(t, sink.byKind(EventLicenseActivated), 1)
}

func TestExtendAddsFromCurrentExpiry(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	lic, err := svc.Issue(ctx, model.IssueInput{MaxActivations: 1, ValidDays: 30})
	require.NoError(t, err)

	newExpiry, err := svc.Extend(ctx, lic.Key, 15, false)
	require.NoError(t, err)
	// 从原到期时间叠加,不是从现在起算
	assert.WithinDuration(t, lic.ExpiresAt.AddDate(0, 0, 15), newExpiry, time.Second)

	_, err = svc.Extend(ctx, lic.Key, 0, false)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Extend(ctx, "SNOS-NONE-0000-0000-0000-0000", 10, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExtendDoesNotUnrevokeByDefault(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	lic, err := svc.Issue(ctx, model.IssueInput{MaxActivations: 1, ValidDays: 30})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, lic.Key))

	// 默认续期保持吊销状态
	_, err = svc.Extend(ctx, lic.Key, 30, false)
	require.NoError(t, err)
	detail, err := svc.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRevoked, detail.License.Status)

	// 显式 reactivate 才恢复
	_, err = svc.Extend(ctx, lic.Key, 30, true)
	require.NoError(t, err)
	detail, err = svc.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, detail.License.Status)
}

func TestRevokeIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	lic, err := svc.Issue(ctx, model.IssueInput{MaxActivations: 2, ValidDays: 30})
	require.NoError(t, err)
	_, err = svc.Activate(ctx, lic.Key, "dev-a", model.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, lic.Key))
	require.NoError(t, svc.Revoke(ctx, lic.Key))

	// 吊销不触碰激活历史
	detail, err := svc.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, detail.License.ActiveCount)
	assert.Len(t, detail.Activations, 1)

	assert.ErrorIs(t, svc.Revoke(ctx, "SNOS-NONE-0000-0000-0000-0000"), ErrNotFound)
}

// collidingStore 前 N 次插入报密钥冲突
type collidingStore struct {
	store.Store
	mu         sync.Mutex
	collisions int
}

func (c *collidingStore) Insert(ctx context.Context, lic *model.License) error {
	c.mu.Lock()
	if c.collisions > 0 {
		c.collisions--
		c.mu.Unlock()
		return store.ErrDuplicateKey
	}
	c.mu.Unlock()
	return c.Store.Insert(ctx, lic)
}

func TestIssueRetriesOnKeyCollision(t *testing.T) {
	st := &collidingStore{Store: store.NewMemoryStore(), collisions: 2}
	svc := NewLicenseService(st, nil, "SNOS")
	svc.retryBackoff = time.Millisecond

	lic, err := svc.Issue(context.Background(), model.IssueInput{MaxActivations: 1, ValidDays: 30})
	require.NoError(t, err)
	assert.NotEmpty(t, lic.Key)
}

func TestIssueKeySpaceExhausted(t *testing.T) {
	st := &collidingStore{Store: store.NewMemoryStore(), collisions: 1000}
	svc := NewLicenseService(st, nil, "SNOS")
	svc.retryBackoff = time.Millisecond

	_, err := svc.Issue(context.Background(), model.IssueInput{MaxActivations: 1, ValidDays: 30})
	assert.ErrorIs(t, err, ErrKeySpaceExhausted)
}

// flakyStore 前 N 次 GetByKey 返回瞬时错误
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) GetByKey(ctx context.Context, key string) (*model.License, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.Store.GetByKey(ctx, key)
}

func TestActivateRetriesTransientFailures(t *testing.T) {
	mem := store.NewMemoryStore()
	st := &flakyStore{Store: mem, failures: 2}
	svc := NewLicenseService(st, nil, "SNOS")
	svc.retryBackoff = time.Millisecond

	lic, err := svc.Issue(context.Background(), model.IssueInput{MaxActivations: 1, ValidDays: 30})
	require.NoError(t, err)

	// 两次瞬时失败后第三次成功
	res, err := svc.Activate(context.Background(), lic.Key, "dev-a", model.ClientMeta{})
	require.NoError(t, err)
	assert.False(t, res.AlreadyActivated)
}

func TestActivateSurfacesStorageUnavailable(t *testing.T) {
	st := &flakyStore{Store: store.NewMemoryStore(), failures: 1000}
	svc := NewLicenseService(st, nil, "SNOS")
	svc.retryBackoff = time.Millisecond

	_, err := svc.Activate(context.Background(), "SNOS-AAAA-BBBB-CCCC-DDDD-EEEE", "dev-a", model.ClientMeta{})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestUpdateQuota(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	lic, err := svc.Issue(ctx, model.IssueInput{MaxActivations: 1, ValidDays: 30})
	require.NoError(t, err)
	_, err = svc.Activate(ctx, lic.Key, "dev-a", model.ClientMeta{})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.UpdateQuota(ctx, lic.Key, 0), ErrInvalidArgument)

	require.NoError(t, svc.UpdateQuota(ctx, lic.Key, 2))
	res, err := svc.Activate(ctx, lic.Key, "dev-b", model.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.License.ActiveCount)
}
