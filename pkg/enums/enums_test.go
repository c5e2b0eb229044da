package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus("pending")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPending, status)

	_, err = ParseOrderStatus("shipped")
	assert.Error(t, err)
}

func TestParseOutboxEventType(t *testing.T) {
	evt, err := ParseOutboxEventType("order.canceled")
	require.NoError(t, err)
	assert.Equal(t, EventOrderCanceled, evt)
	assert.True(t, evt.IsValid())

	_, err = ParseOutboxEventType("order_created")
	assert.Error(t, err)
	assert.True(t, AggregateOrder.IsValid())
}
