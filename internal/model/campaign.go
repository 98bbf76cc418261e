package model

import (
	"time"
)

// Campaign 空投活动模型
type Campaign struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Name        string `json:"name" gorm:"not null" binding:"required"`
	Description string `json:"description" gorm:"type:text"`
	ImageURL    string `json:"image_url"`

	// 发放配置
	DistributionMode DistributionMode `json:"distribution_mode" gorm:"default:'ALL'"`
	RandomCount      *int             `json:"random_count"`
	TotalSupply      int64            `json:"total_supply" gorm:"default:0"`

	// 状态
	Status CampaignStatus `json:"status" gorm:"default:'DRAFT';index"`

	// 创建者信息
	CreatorAddress string `json:"creator_address" gorm:"not null"`

	// 区块链信息
	ContractAddress string `json:"contract_address"`
	TokenID         string `json:"token_id"` // 十进制字符串，避免超过int64范围
}

// CampaignStatus 活动状态
type CampaignStatus string

const (
	CampaignStatusDraft        CampaignStatus = "DRAFT"        // 草稿
	CampaignStatusActive       CampaignStatus = "ACTIVE"       // 已激活
	CampaignStatusDistributing CampaignStatus = "DISTRIBUTING" // 发放中
	CampaignStatusCompleted    CampaignStatus = "COMPLETED"    // 已完成
	CampaignStatusFailed       CampaignStatus = "FAILED"       // 失败
)

// DistributionMode 发放模式
type DistributionMode string

const (
	DistributionModeManual DistributionMode = "MANUAL" // 手动选择
	DistributionModeRandom DistributionMode = "RANDOM" // 随机抽取
	DistributionModeAll    DistributionMode = "ALL"    // 全部发放
)

// TableName 自定义表名
func (Campaign) TableName() string {
	return "campaign"
}

// ContractDeployed 合约是否已部署
func (c *Campaign) ContractDeployed() bool {
	return c.ContractAddress != "" && c.TokenID != ""
}
