package queue

import (
	"fmt"
	"strconv"
)

// OrderMessage 是订单流上的扁平字段封皮 {id, userId, voucherId}。
// 由准入脚本追加，消费者取出后物化为订单行。
type OrderMessage struct {
	ID        int64 `json:"id"`
	UserID    int64 `json:"user_id"`
	VoucherID int64 `json:"voucher_id"`
}

// Validate 做最小字段校验，防止脏消息（如初始化哨兵 {init:"1"}）入库。
func (m OrderMessage) Validate() error {
	if m.ID <= 0 {
		return fmt.Errorf("id is required")
	}
	if m.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if m.VoucherID <= 0 {
		return fmt.Errorf("voucher_id is required")
	}
	return nil
}

// parseOrderMessage 从 Stream 字段表还原订单消息；缺字段或类型不对即报错，
// 调用方据此 ACK 丢弃。
func parseOrderMessage(values map[string]interface{}) (OrderMessage, error) {
	idStr, err := getStreamString(values, "id")
	if err != nil {
		return OrderMessage{}, err
	}
	userStr, err := getStreamString(values, "userId")
	if err != nil {
		return OrderMessage{}, err
	}
	voucherStr, err := getStreamString(values, "voucherId")
	if err != nil {
		return OrderMessage{}, err
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return OrderMessage{}, fmt.Errorf("invalid id %q", idStr)
	}
	userID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil {
		return OrderMessage{}, fmt.Errorf("invalid userId %q", userStr)
	}
	voucherID, err := strconv.ParseInt(voucherStr, 10, 64)
	if err != nil {
		return OrderMessage{}, fmt.Errorf("invalid voucherId %q", voucherStr)
	}

	msg := OrderMessage{ID: id, UserID: userID, VoucherID: voucherID}
	if err := msg.Validate(); err != nil {
		return OrderMessage{}, err
	}
	return msg, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
