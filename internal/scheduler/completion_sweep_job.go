package scheduler

import (
	"time"

	"github.com/blues/tds/internal/config"
	"github.com/blues/tds/internal/logger"
	"github.com/blues/tds/internal/logic"
	"github.com/blues/tds/internal/model"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// CompletionSweepJob 活动完成度兜底任务。
// worker在写完最后一个批次终态之后、触发完成度汇总之前崩溃时，
// 活动会停留在DISTRIBUTING。这个任务定期重扫补上缺失的收尾。
type CompletionSweepJob struct {
	db         *gorm.DB
	completion *logic.CompletionLogic
	config     *config.Config
}

// NewCompletionSweepJob 创建完成度兜底任务
func NewCompletionSweepJob(db *gorm.DB, completion *logic.CompletionLogic, cfg *config.Config) *CompletionSweepJob {
	return &CompletionSweepJob{
		db:         db,
		completion: completion,
		config:     cfg,
	}
}

// GetName 获取任务名称
func (j *CompletionSweepJob) GetName() string {
	return "campaign_completion_sweeper"
}

// GetSchedule 获取调度配置
func (j *CompletionSweepJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Scheduler.Interval) * time.Second)
}

// Execute 执行任务
func (j *CompletionSweepJob) Execute() {
	var campaigns []model.Campaign
	err := j.db.Where("status = ?", model.CampaignStatusDistributing).Find(&campaigns).Error
	if err != nil {
		logger.Error("Failed to fetch distributing campaigns: %v", err)
		return
	}

	for _, campaign := range campaigns {
		if err := j.completion.CheckCompletion(campaign.ID); err != nil {
			logger.Error("Completion sweep failed for campaign %s: %v", campaign.ID, err)
		}
	}
}
