package scheduler

import (
	"github.com/blues/tds/internal/config"
	"github.com/blues/tds/internal/logger"
	"github.com/blues/tds/internal/logic"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Manager 定时任务管理器
type Manager struct {
	scheduler  gocron.Scheduler
	db         *gorm.DB
	completion *logic.CompletionLogic
	config     *config.Config
}

// NewManager 创建新的任务管理器
func NewManager(db *gorm.DB, completion *logic.CompletionLogic, cfg *config.Config) *Manager {
	s, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("Failed to create scheduler: %v", err)
	}

	return &Manager{
		scheduler:  s,
		db:         db,
		completion: completion,
		config:     cfg,
	}
}

// Start 启动任务管理器
func Start(db *gorm.DB, completion *logic.CompletionLogic, cfg *config.Config) *Manager {
	manager := NewManager(db, completion, cfg)

	// 注册所有任务
	manager.RegisterJobs()

	// 启动调度器
	manager.scheduler.Start()

	logger.Info("Scheduler started successfully")
	return manager
}

// RegisterJobs 注册所有任务
func (m *Manager) RegisterJobs() {
	m.RegisterCompletionSweepJob()
}

// RegisterCompletionSweepJob 注册完成度兜底任务
func (m *Manager) RegisterCompletionSweepJob() {
	job := NewCompletionSweepJob(m.db, m.completion, m.config)

	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
	}
}

// Stop 停止任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	logger.Info("Scheduler stopped")
}
