package model

import (
	"time"
)

// AuditLog 操作审计记录
type AuditLog struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	CampaignID string `json:"campaign_id" gorm:"not null;index"`
	Action     string `json:"action" gorm:"not null"`
	Detail     string `json:"detail" gorm:"type:text"`
}

// TableName 自定义表名
func (AuditLog) TableName() string {
	return "audit_log"
}
