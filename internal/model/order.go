package model

import "time"

// 订单状态：0 待支付 1 已支付 2 已取消。
const (
	OrderStatusUnpaid   = 0
	OrderStatusPaid     = 1
	OrderStatusCanceled = 2
)

// VoucherOrder 秒杀订单。
// ID 由 Redis ID 生成器预分配，准入时随消息入流，落库时才物化成行。
// (user_id, voucher_id) 唯一索引是“一人一单”的最终防线。
type VoucherOrder struct {
	ID        int64     `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID    int64 `gorm:"not null;uniqueIndex:idx_user_voucher" json:"user_id"`
	VoucherID int64 `gorm:"not null;uniqueIndex:idx_user_voucher" json:"voucher_id"`
	Status    int   `gorm:"not null;default:0" json:"status"`
}

func (VoucherOrder) TableName() string { return "voucher_orders" }
