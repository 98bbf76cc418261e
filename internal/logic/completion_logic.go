package logic

import (
	"github.com/blues/tds/internal/logger"
	"github.com/blues/tds/internal/model"
	"gorm.io/gorm"
)

// CompletionLogic 活动完成度汇总逻辑
type CompletionLogic struct {
	db *gorm.DB
}

// NewCompletionLogic 创建完成度汇总逻辑
func NewCompletionLogic(db *gorm.DB) *CompletionLogic {
	return &CompletionLogic{db: db}
}

// CheckCompletion 汇总活动下全部批次的结果。
// 只要还有批次未到终态就不做任何事；全部到终态后，存在失败批次则活动置为
// FAILED，否则置为COMPLETED。幂等，可以从任意路径重复调用。
func (c *CompletionLogic) CheckCompletion(campaignID string) error {
	var distributions []model.Distribution
	if err := c.db.Where("campaign_id = ?", campaignID).Find(&distributions).Error; err != nil {
		return err
	}
	if len(distributions) == 0 {
		return nil
	}

	anyFailed := false
	for _, dist := range distributions {
		if !dist.Status.Terminal() {
			return nil
		}
		if dist.Status == model.DistributionStatusFailed {
			anyFailed = true
		}
	}

	newStatus := model.CampaignStatusCompleted
	if anyFailed {
		newStatus = model.CampaignStatusFailed
	}

	// 状态条件保证只有DISTRIBUTING的活动会被收尾，重复调用是无害的
	res := c.db.Model(&model.Campaign{}).
		Where("id = ? AND status = ?", campaignID, model.CampaignStatusDistributing).
		Update("status", newStatus)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		logger.Info("Campaign %s finished with status %s", campaignID, newStatus)
	}

	return nil
}
