package model

import "time"

// Shop 店铺信息，读多写少，是缓存层保护的典型热点实体。
type Shop struct {
	ID        int64     `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name     string `gorm:"size:128;not null" json:"name"`
	Area     string `gorm:"size:64" json:"area"`
	Address  string `gorm:"size:255" json:"address"`
	AvgPrice int64  `json:"avg_price"` // 单位：分
	Score    int    `json:"score"`
}

func (Shop) TableName() string { return "shops" }
