package model

import (
	"time"
)

// RandomDraw 随机抽取审计记录，创建后不可修改。
// 第三方可以用ServerSeed重放洗牌过程，校验ResultHash验证抽取结果未被篡改。
type RandomDraw struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`

	CampaignID string `json:"campaign_id" gorm:"not null;index"`

	ServerSeed        string      `json:"server_seed" gorm:"not null"`
	ResultHash        string      `json:"result_hash" gorm:"not null"`
	SelectedAddresses StringSlice `json:"selected_addresses" gorm:"type:text"`
	TotalCandidates   int         `json:"total_candidates" gorm:"not null"`
	SelectedCount     int         `json:"selected_count" gorm:"not null"`
}

// TableName 自定义表名
func (RandomDraw) TableName() string {
	return "random_draw"
}
