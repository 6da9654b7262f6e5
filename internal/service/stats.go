package service

import (
	"log"
	"sync"
	"time"

	"snos-license-server/internal/model"

	"gorm.io/gorm"
)

type EventKind string

const (
	EventLicenseIssued    EventKind = "license_issued"
	EventLicenseActivated EventKind = "license_activated"
)

// Event 引擎发出的统计事件,尽力送达,允许丢失和滞后
type Event struct {
	Kind       EventKind
	LicenseKey string
	HWID       string
	At         time.Time
}

// EventSink 引擎向统计侧投递事件的出口
type EventSink interface {
	Publish(Event)
}

// StatsService 异步消费引擎事件,折算成按天的计数。
// 不在激活路径的一致性边界内,队列满时直接丢弃事件。
type StatsService struct {
	db     *gorm.DB
	events chan Event
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{
		db:     db,
		events: make(chan Event, 256),
	}
}

// Start 启动后台消费协程
func (s *StatsService) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for ev := range s.events {
				if err := s.apply(ev); err != nil {
					log.Printf("统计事件处理失败: %v", err)
				}
			}
		}()
	})
}

// Stop 关闭队列并等待积压事件处理完毕,之后的 Publish 静默丢弃
func (s *StatsService) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		s.wg.Wait()
	})
}

// Publish 非阻塞投递,队列满时丢弃。
// 发送与 Stop 的关闭在同一把锁下,停止后投递不会 panic。
func (s *StatsService) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		log.Printf("统计队列已满,丢弃事件 %s", ev.Kind)
	}
}

func (s *StatsService) apply(ev Event) error {
	date := ev.At.Format("2006-01-02")
	stat := model.DailyStat{Date: date}
	if err := s.db.FirstOrCreate(&stat, model.DailyStat{Date: date}).Error; err != nil {
		return err
	}

	switch ev.Kind {
	case EventLicenseIssued:
		return s.db.Model(&model.DailyStat{}).
			Where("date = ?", date).
			UpdateColumn("licenses_generated", gorm.Expr("licenses_generated + 1")).Error
	case EventLicenseActivated:
		if err := s.db.Model(&model.DailyStat{}).
			Where("date = ?", date).
			UpdateColumn("licenses_activated", gorm.Expr("licenses_activated + 1")).Error; err != nil {
			return err
		}
		return s.refreshUniqueHwids(ev.At, date)
	}
	return nil
}

// refreshUniqueHwids 重算当天去重后的设备数
func (s *StatsService) refreshUniqueHwids(at time.Time, date string) error {
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var unique int64
	if err := s.db.Model(&model.Activation{}).
		Where("activated_at >= ? AND activated_at < ?", dayStart, dayEnd).
		Distinct("hw_id").
		Count(&unique).Error; err != nil {
		return err
	}
	return s.db.Model(&model.DailyStat{}).
		Where("date = ?", date).
		UpdateColumn("unique_hwids", unique).Error
}
