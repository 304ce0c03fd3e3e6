package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOrderMessage(t *testing.T) {
	msg, err := parseOrderMessage(map[string]interface{}{
		"id":        "100",
		"userId":    "7",
		"voucherId": "1",
	})
	require.NoError(t, err)
	require.Equal(t, OrderMessage{ID: 100, UserID: 7, VoucherID: 1}, msg)
}

func TestParseOrderMessageRejectsInitSentinel(t *testing.T) {
	// 首次建流的初始化哨兵必须被识别为脏消息，绝不入库。
	_, err := parseOrderMessage(map[string]interface{}{"init": "1"})
	require.Error(t, err)
}

func TestParseOrderMessageRejectsBadFields(t *testing.T) {
	cases := []map[string]interface{}{
		{"id": "abc", "userId": "7", "voucherId": "1"},
		{"id": "100", "userId": "7"},
		{"id": "0", "userId": "7", "voucherId": "1"},
	}
	for _, values := range cases {
		_, err := parseOrderMessage(values)
		require.Error(t, err, "values=%v", values)
	}
}
