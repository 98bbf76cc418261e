package model

import (
	"time"
)

// Recipient 空投接收者模型
type Recipient struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CampaignID string          `json:"campaign_id" gorm:"not null;index"`
	Address    string          `json:"address" gorm:"not null"`
	Amount     int64           `json:"amount" gorm:"not null;default:1"`
	Source     RecipientSource `json:"source" gorm:"default:'manual'"`

	// 发放状态
	Status        RecipientStatus `json:"status" gorm:"default:'PENDING';index"`
	TxHash        string          `json:"tx_hash"`
	Error         string          `json:"error" gorm:"type:text"`
	DistributedAt *time.Time      `json:"distributed_at"`
}

// RecipientStatus 接收者状态
type RecipientStatus string

const (
	RecipientStatusPending    RecipientStatus = "PENDING"    // 待发放
	RecipientStatusQueued     RecipientStatus = "QUEUED"     // 已入队
	RecipientStatusProcessing RecipientStatus = "PROCESSING" // 发放中
	RecipientStatusCompleted  RecipientStatus = "COMPLETED"  // 已完成
	RecipientStatusFailed     RecipientStatus = "FAILED"     // 失败
)

// RecipientSource 接收者来源
type RecipientSource string

const (
	RecipientSourceManual       RecipientSource = "manual"
	RecipientSourceCSV          RecipientSource = "csv"
	RecipientSourceNFTHolders   RecipientSource = "nft_holders"
	RecipientSourceTokenBalance RecipientSource = "token_balance"
	RecipientSourceFarcaster    RecipientSource = "farcaster"
)

// TableName 自定义表名
func (Recipient) TableName() string {
	return "recipient"
}
