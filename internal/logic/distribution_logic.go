package logic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/blues/tds/internal/batch"
	"github.com/blues/tds/internal/logger"
	"github.com/blues/tds/internal/model"
	"github.com/blues/tds/internal/queue"
	"github.com/blues/tds/internal/selector"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"
)

// DistributionLogic 批次发放编排逻辑
type DistributionLogic struct {
	db        *gorm.DB
	enqueuer  queue.Enqueuer
	batchSize int
	pool      *ants.Pool
}

// StartResult 发起发放的结果
type StartResult struct {
	BatchCount      int `json:"batch_count"`
	TotalRecipients int `json:"total_recipients"`
}

// NewDistributionLogic 创建发放编排逻辑
func NewDistributionLogic(db *gorm.DB, enqueuer queue.Enqueuer, batchSize int) *DistributionLogic {
	pool, err := ants.NewPool(8)
	if err != nil {
		logger.Fatal("Failed to create enqueue pool: %v", err)
	}

	return &DistributionLogic{
		db:        db,
		enqueuer:  enqueuer,
		batchSize: batchSize,
		pool:      pool,
	}
}

// Close 释放资源
func (l *DistributionLogic) Close() {
	l.pool.Release()
}

// StartDistribution 发起一次活动发放。
// 在一个事务内创建全部批次并把接收者标记为QUEUED，事务提交之后才入队任务，
// 避免worker先于数据落库看到任务。
func (l *DistributionLogic) StartDistribution(ctx context.Context, campaignID, callerAddress string) (*StartResult, error) {
	var campaign model.Campaign
	if err := l.db.First(&campaign, "id = ?", campaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}

	if !strings.EqualFold(campaign.CreatorAddress, callerAddress) {
		return nil, ErrForbidden
	}
	if !campaign.ContractDeployed() {
		return nil, ErrContractNotDeployed
	}
	if campaign.Status != model.CampaignStatusDraft && campaign.Status != model.CampaignStatusActive {
		return nil, ErrInvalidStatus
	}

	var pending []model.Recipient
	if err := l.db.Where("campaign_id = ? AND status = ?",
		campaignID, model.RecipientStatusPending).
		Order("created_at, id").Find(&pending).Error; err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, ErrNoRecipients
	}

	// 随机模式先抽取再切批
	eligible := pending
	var draw *model.RandomDraw
	if campaign.DistributionMode == model.DistributionModeRandom {
		if campaign.RandomCount == nil || *campaign.RandomCount <= 0 {
			return nil, ErrRandomCountRequired
		}
		sel, err := selector.Select(pending, *campaign.RandomCount)
		if err != nil {
			return nil, err
		}

		addresses := make([]string, len(sel.Recipients))
		for i, r := range sel.Recipients {
			addresses[i] = r.Address
		}
		draw = &model.RandomDraw{
			ID:                uuid.NewString(),
			CampaignID:        campaignID,
			ServerSeed:        sel.Seed,
			ResultHash:        sel.ResultHash,
			SelectedAddresses: addresses,
			TotalCandidates:   len(pending),
			SelectedCount:     len(sel.Recipients),
		}
		eligible = sel.Recipients
	}

	plans := batch.PlanBatches(eligible, l.batchSize)
	payloads := make([]*queue.DistributionJobPayload, 0, len(plans))

	err := l.db.Transaction(func(tx *gorm.DB) error {
		// 先发制人地占住状态，并发的第二次发放会在这里失败
		res := tx.Model(&model.Campaign{}).
			Where("id = ? AND status IN ?", campaignID,
				[]model.CampaignStatus{model.CampaignStatusDraft, model.CampaignStatusActive}).
			Update("status", model.CampaignStatusDistributing)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidStatus
		}

		// 抽取审计记录必须在使用抽取结果之前落库
		if draw != nil {
			if err := tx.Create(draw).Error; err != nil {
				return err
			}
		}

		for _, plan := range plans {
			recipientIDs := make(model.StringSlice, len(plan.Recipients))
			addresses := make([]string, len(plan.Recipients))
			amounts := make([]int64, len(plan.Recipients))
			for i, r := range plan.Recipients {
				recipientIDs[i] = r.ID
				addresses[i] = r.Address
				amounts[i] = r.Amount
			}

			dist := model.Distribution{
				ID:             uuid.NewString(),
				CampaignID:     campaignID,
				BatchIndex:     plan.BatchIndex,
				RecipientIDs:   recipientIDs,
				Status:         model.DistributionStatusQueued,
				IdempotencyKey: plan.IdempotencyKey,
			}
			if err := tx.Create(&dist).Error; err != nil {
				return err
			}

			if err := tx.Model(&model.Recipient{}).
				Where("id IN ?", []string(recipientIDs)).
				Update("status", model.RecipientStatusQueued).Error; err != nil {
				return err
			}

			payloads = append(payloads, &queue.DistributionJobPayload{
				CampaignID:         campaignID,
				BatchIndex:         plan.BatchIndex,
				RecipientAddresses: addresses,
				Amounts:            amounts,
				ContractAddress:    campaign.ContractAddress,
				TokenID:            campaign.TokenID,
				IdempotencyKey:     plan.IdempotencyKey,
			})
		}

		return l.recordAudit(tx, campaignID, "distribution_started", map[string]interface{}{
			"mode":            campaign.DistributionMode,
			"recipient_count": len(eligible),
			"batch_count":     len(plans),
		})
	})
	if err != nil {
		return nil, err
	}

	// 事务已提交，入队任务
	l.enqueueAll(ctx, payloads)

	logger.Info("Started distribution for campaign %s: %d recipients in %d batches",
		campaignID, len(eligible), len(plans))

	return &StartResult{
		BatchCount:      len(plans),
		TotalRecipients: len(eligible),
	}, nil
}

// RetryDistribution 重试失败的批次。
// 为每个FAILED批次签发新的幂等键并重置为QUEUED，事务提交后重新入队。
// 返回实际重试的批次数。
func (l *DistributionLogic) RetryDistribution(ctx context.Context, campaignID, callerAddress string) (int, error) {
	var campaign model.Campaign
	if err := l.db.First(&campaign, "id = ?", campaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrCampaignNotFound
		}
		return 0, err
	}

	if !strings.EqualFold(campaign.CreatorAddress, callerAddress) {
		return 0, ErrForbidden
	}
	if campaign.Status != model.CampaignStatusFailed && campaign.Status != model.CampaignStatusDistributing {
		return 0, ErrInvalidStatus
	}

	var payloads []*queue.DistributionJobPayload

	err := l.db.Transaction(func(tx *gorm.DB) error {
		var failed []model.Distribution
		if err := tx.Where("campaign_id = ? AND status = ?",
			campaignID, model.DistributionStatusFailed).
			Order("batch_index").Find(&failed).Error; err != nil {
			return err
		}
		if len(failed) == 0 {
			return ErrNoFailedBatches
		}

		for _, dist := range failed {
			newKey := uuid.NewString()

			// 带状态条件的更新防止与并发的重试或worker互相抢占同一个批次，
			// 状态已经不是FAILED的批次直接跳过
			res := tx.Model(&model.Distribution{}).
				Where("id = ? AND status = ?", dist.ID, model.DistributionStatusFailed).
				Updates(map[string]interface{}{
					"status":          model.DistributionStatusQueued,
					"idempotency_key": newKey,
					"retry_count":     gorm.Expr("retry_count + 1"),
					"deferral_count":  0,
					"error":           "",
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}

			if err := tx.Model(&model.Recipient{}).
				Where("id IN ?", []string(dist.RecipientIDs)).
				Updates(map[string]interface{}{
					"status": model.RecipientStatusQueued,
					"error":  "",
				}).Error; err != nil {
				return err
			}

			payload, err := l.buildPayload(tx, &campaign, &dist, newKey)
			if err != nil {
				return err
			}
			payloads = append(payloads, payload)
		}

		if len(payloads) == 0 {
			return ErrNoFailedBatches
		}

		if err := tx.Model(&model.Campaign{}).
			Where("id = ?", campaignID).
			Update("status", model.CampaignStatusDistributing).Error; err != nil {
			return err
		}

		return l.recordAudit(tx, campaignID, "distribution_retried", map[string]interface{}{
			"batch_count": len(payloads),
		})
	})
	if err != nil {
		return 0, err
	}

	l.enqueueAll(ctx, payloads)

	logger.Info("Retrying %d failed batches for campaign %s", len(payloads), campaignID)
	return len(payloads), nil
}

// buildPayload 按批次内固定的接收者顺序组装任务载荷
func (l *DistributionLogic) buildPayload(tx *gorm.DB, campaign *model.Campaign,
	dist *model.Distribution, idempotencyKey string) (*queue.DistributionJobPayload, error) {

	var recipients []model.Recipient
	if err := tx.Where("id IN ?", []string(dist.RecipientIDs)).Find(&recipients).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]*model.Recipient, len(recipients))
	for i := range recipients {
		byID[recipients[i].ID] = &recipients[i]
	}

	addresses := make([]string, 0, len(dist.RecipientIDs))
	amounts := make([]int64, 0, len(dist.RecipientIDs))
	for _, id := range dist.RecipientIDs {
		r, ok := byID[id]
		if !ok {
			continue
		}
		addresses = append(addresses, r.Address)
		amounts = append(amounts, r.Amount)
	}

	return &queue.DistributionJobPayload{
		CampaignID:         campaign.ID,
		BatchIndex:         dist.BatchIndex,
		RecipientAddresses: addresses,
		Amounts:            amounts,
		ContractAddress:    campaign.ContractAddress,
		TokenID:            campaign.TokenID,
		IdempotencyKey:     idempotencyKey,
	}, nil
}

// enqueueAll 并发入队全部任务，等待全部完成后返回。
// 入队失败只记录日志：批次行已是QUEUED状态，运维可以通过重新发起重试补偿。
func (l *DistributionLogic) enqueueAll(ctx context.Context, payloads []*queue.DistributionJobPayload) {
	var wg sync.WaitGroup
	for _, payload := range payloads {
		p := payload
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := l.enqueuer.EnqueueDistribution(ctx, p); err != nil {
				logger.Error("Failed to enqueue batch %d for campaign %s: %v",
					p.BatchIndex, p.CampaignID, err)
			}
		}
		if err := l.pool.Submit(task); err != nil {
			// 协程池不可用时退化为同步入队
			task()
		}
	}
	wg.Wait()
}

// recordAudit 记录审计日志
func (l *DistributionLogic) recordAudit(tx *gorm.DB, campaignID, action string, detail map[string]interface{}) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	return tx.Create(&model.AuditLog{
		CampaignID: campaignID,
		Action:     action,
		Detail:     string(data),
	}).Error
}
