package frontend

import (
	"encoding/binary"
	"testing"

	"github.com/matchbook/matchbook/internal/engine"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildNewOrderBody(side engine.Side, symbol string, priceTicks, qty int64, user string) []byte {
	body := make([]byte, 0, 1+1+len(symbol)+8+8+1+len(user))
	body = append(body, byte(side))
	body = append(body, byte(len(symbol)))
	body = append(body, symbol...)
	var priceBuf, qtyBuf [8]byte
	binary.BigEndian.PutUint64(priceBuf[:], uint64(priceTicks))
	binary.BigEndian.PutUint64(qtyBuf[:], uint64(qty))
	body = append(body, priceBuf[:]...)
	body = append(body, qtyBuf[:]...)
	body = append(body, byte(len(user)))
	body = append(body, user...)
	return body
}

func TestParseMessage_NewOrder(t *testing.T) {
	body := buildNewOrderBody(engine.Buy, "AAPL", 100_00000000, 50, "alice")
	frame := append([]byte{byte(NewOrder)}, body...)

	msg, err := ParseMessage(frame)
	require.NoError(t, err)

	order, ok := msg.(NewOrderMessage)
	require.True(t, ok)
	assert.Equal(t, engine.Buy, order.Side)
	assert.Equal(t, "AAPL", order.Symbol)
	assert.Equal(t, int64(50), order.Quantity)
	assert.Equal(t, "alice", order.UserID)
	assert.True(t, order.Price.Equal(decimal.NewFromInt(100))) // wire ticks decode to the decimal price

	req := order.SubmitRequest()
	assert.Equal(t, int64(100_00000000), req.Price)
	assert.Equal(t, "AAPL", req.Symbol)
}

func TestParseMessage_TooShort(t *testing.T) {
	_, err := ParseMessage(nil)
	assert.ErrorIs(t, err, ErrMessageTooShort)

	frame := []byte{byte(NewOrder), byte(engine.Buy)}
	_, err = ParseMessage(frame)
	assert.Error(t, err)
}

func TestParseMessage_UnknownType(t *testing.T) {
	_, err := ParseMessage([]byte{99})
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestReport_SerializeRoundTripsFixedFields(t *testing.T) {
	r := &Report{
		Type: ExecutionReport, OrderID: "o1", Symbol: "AAPL",
		Side: engine.Buy, Price: 100_00000000, Quantity: 50, Status: engine.StatusPartiallyFilled,
	}
	data, err := r.Serialize()
	require.NoError(t, err)

	assert.Equal(t, byte(ExecutionReport), data[0])
	assert.Equal(t, byte(engine.Buy), data[1])
	assert.Equal(t, byte(engine.StatusPartiallyFilled), data[2])
	assert.Equal(t, byte(len("AAPL")), data[3])
}
