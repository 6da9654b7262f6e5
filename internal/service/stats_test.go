package service

import (
	"sync"
	"testing"
	"time"

	"snos-license-server/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newStatsTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Activation{}, &model.DailyStat{}))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestStatsAggregatesByDay(t *testing.T) {
	db := newStatsTestDB(t, "stats_daily")
	stats := NewStatsService(db)
	stats.Start()

	at := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

	// 当天三张激活记录,两台设备
	for _, act := range []model.Activation{
		{LicenseKey: "SNOS-K1", HWID: "dev-a", ActivatedAt: at},
		{LicenseKey: "SNOS-K2", HWID: "dev-a", ActivatedAt: at.Add(time.Hour)},
		{LicenseKey: "SNOS-K2", HWID: "dev-b", ActivatedAt: at.Add(2 * time.Hour)},
	} {
		require.NoError(t, db.Create(&act).Error)
	}

	stats.Publish(Event{Kind: EventLicenseIssued, LicenseKey: "SNOS-K1", At: at})
	stats.Publish(Event{Kind: EventLicenseIssued, LicenseKey: "SNOS-K2", At: at})
	stats.Publish(Event{Kind: EventLicenseActivated, LicenseKey: "SNOS-K1", HWID: "dev-a", At: at})
	stats.Publish(Event{Kind: EventLicenseActivated, LicenseKey: "SNOS-K2", HWID: "dev-a", At: at.Add(time.Hour)})
	stats.Publish(Event{Kind: EventLicenseActivated, LicenseKey: "SNOS-K2", HWID: "dev-b", At: at.Add(2 * time.Hour)})

	// Stop 排空队列,之后读库是确定的
	stats.Stop()

	var stat model.DailyStat
	require.NoError(t, db.First(&stat, "date = ?", "2026-03-15").Error)
	assert.Equal(t, 2, stat.LicensesGenerated)
	assert.Equal(t, 3, stat.LicensesActivated)
	assert.Equal(t, 2, stat.UniqueHwids)
}

func TestStatsSeparateDays(t *testing.T) {
	db := newStatsTestDB(t, "stats_days")
	stats := NewStatsService(db)
	stats.Start()

	day1 := time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 16, 0, 1, 0, 0, time.UTC)

	stats.Publish(Event{Kind: EventLicenseIssued, At: day1})
	stats.Publish(Event{Kind: EventLicenseIssued, At: day2})
	stats.Publish(Event{Kind: EventLicenseIssued, At: day2})
	stats.Stop()

	var d1, d2 model.DailyStat
	require.NoError(t, db.First(&d1, "date = ?", "2026-03-15").Error)
	require.NoError(t, db.First(&d2, "date = ?", "2026-03-16").Error)
	assert.Equal(t, 1, d1.LicensesGenerated)
	assert.Equal(t, 2, d2.LicensesGenerated)
}

func TestStatsPublishNeverBlocks(t *testing.T) {
	db := newStatsTestDB(t, "stats_drop")
	stats := NewStatsService(db)
	// 不启动消费协程,队列灌满后 Publish 仍须立即返回

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			stats.Publish(Event{Kind: EventLicenseIssued, At: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("队列满时 Publish 阻塞了")
	}
}

// 停机后投递必须静默丢弃,绝不 panic
func TestStatsPublishAfterStopDrops(t *testing.T) {
	db := newStatsTestDB(t, "stats_after_stop")
	stats := NewStatsService(db)
	stats.Start()
	stats.Stop()

	stats.Publish(Event{Kind: EventLicenseIssued, At: time.Now()})

	var count int64
	require.NoError(t, db.Model(&model.DailyStat{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestStatsPublishRacesStop(t *testing.T) {
	db := newStatsTestDB(t, "stats_race_stop")
	stats := NewStatsService(db)
	stats.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				stats.Publish(Event{Kind: EventLicenseActivated, HWID: "dev", At: time.Now()})
			}
		}()
	}
	stats.Stop()
	wg.Wait()
}

func TestStatsStopIdempotent(t *testing.T) {
	db := newStatsTestDB(t, "stats_stop")
	stats := NewStatsService(db)
	stats.Start()
	stats.Stop()
	stats.Stop()
}
