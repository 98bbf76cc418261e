package model

import (
	"time"
)

// Distribution 一个批次的发放记录，对应一笔链上mintBatch交易
type Distribution struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CampaignID string `json:"campaign_id" gorm:"not null;index"`
	BatchIndex int    `json:"batch_index" gorm:"not null"`

	// 批次内接收者ID，创建后固定不变
	RecipientIDs StringSlice `json:"recipient_ids" gorm:"type:text"`

	// 状态
	Status DistributionStatus `json:"status" gorm:"default:'QUEUED';index"`

	// 幂等键，每次重试发放时重新生成
	IdempotencyKey string `json:"idempotency_key" gorm:"not null;uniqueIndex"`

	// 区块链信息。TxHash在等待确认之前就先落库，崩溃恢复依赖它
	TxHash  string `json:"tx_hash"`
	GasUsed uint64 `json:"gas_used" gorm:"default:0"`

	// 重试信息。DeferralCount记录熔断延迟次数，延迟不消耗重试额度
	RetryCount    int    `json:"retry_count" gorm:"default:0"`
	DeferralCount int    `json:"deferral_count" gorm:"default:0"`
	Error         string `json:"error" gorm:"type:text"`

	CompletedAt *time.Time `json:"completed_at"`
}

// DistributionStatus 批次状态
type DistributionStatus string

const (
	DistributionStatusQueued     DistributionStatus = "QUEUED"     // 已入队
	DistributionStatusProcessing DistributionStatus = "PROCESSING" // 处理中
	DistributionStatusCompleted  DistributionStatus = "COMPLETED"  // 已完成
	DistributionStatusFailed     DistributionStatus = "FAILED"     // 失败
)

// Terminal 是否已到达终态
func (s DistributionStatus) Terminal() bool {
	return s == DistributionStatusCompleted || s == DistributionStatusFailed
}

// TableName 自定义表名
func (Distribution) TableName() string {
	return "distribution"
}
