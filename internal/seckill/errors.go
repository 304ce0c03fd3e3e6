package seckill

import "errors"

// 业务拒绝是终态，调用方不得自动重试；基础设施故障统一归并为 ErrSystemBusy，
// 不向用户暴露内部错误细节。
var (
	// ErrOutOfStock 库存不足或库存镜像未预热（未开售/已结束同样表现为键缺失）。
	ErrOutOfStock = errors.New("out of stock")
	// ErrDuplicateOrder 同一用户对同一张券重复下单。
	ErrDuplicateOrder = errors.New("duplicate order")
	// ErrSystemBusy 共享存储不可达或脚本返回了未识别的状态码。
	ErrSystemBusy = errors.New("system busy")
)
