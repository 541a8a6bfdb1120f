package frontend

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/matchbook/matchbook/internal/engine"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort     = errors.New("message too short for declared field lengths")
)

// PriceScale is the number of decimal places a wire price is scaled by to
// produce the integer minor-tick price the engine trades in (§4.5's ban
// on comparing money as binary float applies at every boundary, not just
// inside the book).
const PriceScale = 8

// MessageType identifies the kind of request framed on the wire.
type MessageType uint8

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	ModifyOrder
	StatusQuery
	MarketDataQuery
)

// ReportType identifies the kind of response framed on the wire.
type ReportType uint8

const (
	ExecutionReport ReportType = iota
	ErrorReport
	StatusReport
	MarketDataReport
)

const baseHeaderLen = 1 // one message-type byte

// Message is anything parsed off the wire.
type Message interface {
	GetType() MessageType
}

type baseMessage struct {
	typeOf MessageType
}

func (m baseMessage) GetType() MessageType { return m.typeOf }

// ParseMessage decodes one framed request. Variable-length fields
// (symbol, user ID) are length-prefixed with a single byte, following
// the fixed-header-then-strings layout the wire protocol already used
// for usernames.
func ParseMessage(msg []byte) (Message, error) {
	if len(msg) < baseHeaderLen {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(msg[0])
	body := msg[1:]

	switch typeOf {
	case NewOrder:
		return parseNewOrder(body)
	case CancelOrder:
		return parseCancelOrder(body)
	case ModifyOrder:
		return parseModifyOrder(body)
	case StatusQuery:
		return parseStatusQuery(body)
	case MarketDataQuery:
		return parseMarketDataQuery(body)
	default:
		return nil, ErrInvalidMessageType
	}
}

// NewOrderMessage is a new limit order request.
//
// Wire layout: side(1) symbolLen(1) symbol(n) price(8) qty(8) userLen(1) user(n)
type NewOrderMessage struct {
	baseMessage
	Side     engine.Side
	Symbol   string
	Price    decimal.Decimal
	Quantity int64
	UserID   string
}

func parseNewOrder(b []byte) (NewOrderMessage, error) {
	if len(b) < 1+1 {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	side := engine.Side(b[0])
	symLen := int(b[1])
	offset := 2
	if len(b) < offset+symLen+8+8+1 {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	symbol := string(b[offset : offset+symLen])
	offset += symLen

	priceTicks := int64(binary.BigEndian.Uint64(b[offset : offset+8]))
	offset += 8
	qty := int64(binary.BigEndian.Uint64(b[offset : offset+8]))
	offset += 8

	userLen := int(b[offset])
	offset++
	if len(b) < offset+userLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	user := string(b[offset : offset+userLen])

	return NewOrderMessage{
		baseMessage: baseMessage{typeOf: NewOrder},
		Side:        side,
		Symbol:      symbol,
		Price:       decimal.New(priceTicks, -PriceScale),
		Quantity:    qty,
		UserID:      user,
	}, nil
}

// SubmitRequest converts the wire message into the engine's request
// shape, converting the decimal wire price into scaled integer ticks at
// the boundary (§4.5).
func (m NewOrderMessage) SubmitRequest() engine.SubmitRequest {
	ticks := m.Price.Shift(PriceScale).Round(0).IntPart()
	return engine.SubmitRequest{
		UserID:   m.UserID,
		Symbol:   m.Symbol,
		Side:     m.Side,
		Quantity: m.Quantity,
		Price:    ticks,
	}
}

// CancelOrderMessage cancels a resting order.
//
// Wire layout: symbolLen(1) symbol(n) orderIDLen(1) orderID(n)
type CancelOrderMessage struct {
	baseMessage
	Symbol  string
	OrderID string
}

func parseCancelOrder(b []byte) (CancelOrderMessage, error) {
	if len(b) < 1 {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	symLen := int(b[0])
	offset := 1
	if len(b) < offset+symLen+1 {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	symbol := string(b[offset : offset+symLen])
	offset += symLen

	idLen := int(b[offset])
	offset++
	if len(b) < offset+idLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	id := string(b[offset : offset+idLen])

	return CancelOrderMessage{
		baseMessage: baseMessage{typeOf: CancelOrder},
		Symbol:      symbol,
		OrderID:     id,
	}, nil
}

// ModifyOrderMessage changes the quantity and/or price of a resting order.
//
// Wire layout: symbolLen(1) symbol(n) orderIDLen(1) orderID(n) newPrice(8) newQty(8)
type ModifyOrderMessage struct {
	baseMessage
	Symbol   string
	OrderID  string
	NewPrice decimal.Decimal
	NewQty   int64
}

func parseModifyOrder(b []byte) (ModifyOrderMessage, error) {
	if len(b) < 1 {
		return ModifyOrderMessage{}, ErrMessageTooShort
	}
	symLen := int(b[0])
	offset := 1
	if len(b) < offset+symLen+1 {
		return ModifyOrderMessage{}, ErrMessageTooShort
	}
	symbol := string(b[offset : offset+symLen])
	offset += symLen

	idLen := int(b[offset])
	offset++
	if len(b) < offset+idLen+8+8 {
		return ModifyOrderMessage{}, ErrMessageTooShort
	}
	id := string(b[offset : offset+idLen])
	offset += idLen

	priceTicks := int64(binary.BigEndian.Uint64(b[offset : offset+8]))
	offset += 8
	qty := int64(binary.BigEndian.Uint64(b[offset : offset+8]))

	return ModifyOrderMessage{
		baseMessage: baseMessage{typeOf: ModifyOrder},
		Symbol:      symbol,
		OrderID:     id,
		NewPrice:    decimal.New(priceTicks, -PriceScale),
		NewQty:      qty,
	}, nil
}

// StatusQueryMessage asks for an order's current lifecycle state.
//
// Wire layout: symbolLen(1) symbol(n) orderIDLen(1) orderID(n)
type StatusQueryMessage struct {
	baseMessage
	Symbol  string
	OrderID string
}

func parseStatusQuery(b []byte) (StatusQueryMessage, error) {
	c, err := parseCancelOrder(b) // identical layout
	if err != nil {
		return StatusQueryMessage{}, err
	}
	return StatusQueryMessage{
		baseMessage: baseMessage{typeOf: StatusQuery},
		Symbol:      c.Symbol,
		OrderID:     c.OrderID,
	}, nil
}

// MarketDataQueryMessage asks for a symbol's current top-of-book depth.
//
// Wire layout: symbolLen(1) symbol(n) levels(1)
type MarketDataQueryMessage struct {
	baseMessage
	Symbol string
	Levels int
}

func parseMarketDataQuery(b []byte) (MarketDataQueryMessage, error) {
	if len(b) < 1 {
		return MarketDataQueryMessage{}, ErrMessageTooShort
	}
	symLen := int(b[0])
	offset := 1
	if len(b) < offset+symLen+1 {
		return MarketDataQueryMessage{}, ErrMessageTooShort
	}
	symbol := string(b[offset : offset+symLen])
	offset += symLen
	levels := int(b[offset])

	return MarketDataQueryMessage{
		baseMessage: baseMessage{typeOf: MarketDataQuery},
		Symbol:      symbol,
		Levels:      levels,
	}, nil
}

// Report is a framed response sent back to a client.
type Report struct {
	Type      ReportType
	OrderID   string
	Symbol    string
	Side      engine.Side
	Price     int64 // minor ticks
	Quantity  int64
	Status    engine.OrderStatus
	ErrStr    string
}

const reportFixedLen = 1 + 1 + 1 + 1 + 1 + 8 + 8 + 2 // type, side, status, symLen, orderIDLen, price, qty, errLen

// Serialize converts the report to be sent on the wire.
func (r *Report) Serialize() ([]byte, error) {
	if len(r.Symbol) > 255 || len(r.OrderID) > 255 || len(r.ErrStr) > 65535 {
		return nil, fmt.Errorf("report field exceeds wire length limit")
	}

	buf := make([]byte, 0, reportFixedLen+len(r.Symbol)+len(r.OrderID)+len(r.ErrStr))
	buf = append(buf, byte(r.Type))
	buf = append(buf, byte(r.Side))
	buf = append(buf, byte(r.Status))
	buf = append(buf, byte(len(r.Symbol)))
	buf = append(buf, r.Symbol...)
	buf = append(buf, byte(len(r.OrderID)))
	buf = append(buf, r.OrderID...)

	var priceBuf, qtyBuf [8]byte
	binary.BigEndian.PutUint64(priceBuf[:], uint64(r.Price))
	binary.BigEndian.PutUint64(qtyBuf[:], uint64(r.Quantity))
	buf = append(buf, priceBuf[:]...)
	buf = append(buf, qtyBuf[:]...)

	var errLenBuf [2]byte
	binary.BigEndian.PutUint16(errLenBuf[:], uint16(len(r.ErrStr)))
	buf = append(buf, errLenBuf[:]...)
	buf = append(buf, r.ErrStr...)

	return buf, nil
}

func errorReport(err error) *Report {
	return &Report{Type: ErrorReport, ErrStr: err.Error()}
}
