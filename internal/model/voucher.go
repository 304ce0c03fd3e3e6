package model

import "time"

// 券类型：0 普通券，1 秒杀券（限时限量）。
const (
	VoucherTypeNormal  = 0
	VoucherTypeSeckill = 1
)

// Voucher 优惠券主表。激活后除库存与时间窗外不再变更。
type Voucher struct {
	ID        int64     `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ShopID int64  `gorm:"not null;index" json:"shop_id"`
	Title  string `gorm:"size:128;not null" json:"title"`
	Price  int64  `gorm:"not null" json:"price"` // 单位：分
	Type   int    `gorm:"not null;default:0" json:"type"`
}

func (Voucher) TableName() string { return "vouchers" }

// SeckillVoucher 秒杀券扩展：权威库存与活动时间窗 [begin, end)。
// Stock 只允许经由落库路径的条件更新扣减。
type SeckillVoucher struct {
	VoucherID int64     `gorm:"primarykey" json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	BeginTime time.Time `gorm:"not null" json:"begin_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
}

func (SeckillVoucher) TableName() string { return "seckill_vouchers" }
