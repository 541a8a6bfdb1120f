// Package frontend is the TCP front door onto the matching engine (§6
// "client protocol"). It frames requests and responses on the wire,
// dispatches them to the engine, and reports executions and errors back
// to connected clients.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/matchbook/matchbook/internal/engine"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 5 * time.Second
)

var (
	ErrImproperConversion = errors.New("improper task type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// clientSession tracks one connected TCP client.
type clientSession struct {
	conn net.Conn
}

// clientMessage links a parsed message to the client that sent it.
type clientMessage struct {
	clientAddress string
	message       Message
}

// Engine is the subset of *engine.Engine the frontend needs, accepted as
// an interface so the server can be driven by a fake in tests (§5 "accept
// interfaces").
type Engine interface {
	Submit(req engine.SubmitRequest) (*engine.Order, []*engine.Trade, error)
	Cancel(orderID, symbol string) error
	Modify(orderID, symbol string, newQty, newPrice int64) ([]*engine.Trade, error)
	Status(orderID, symbol string) (*engine.StatusView, error)
	MarketData(symbol string, levels int) *engine.MarketData
}

// Server is the TCP frontend: it accepts connections, parses wire
// messages off of them via a worker pool, and serializes the result back
// to its client.
type Server struct {
	address string
	port    int
	engine  Engine
	workers int

	pool   WorkerPool
	cancel context.CancelFunc

	sessionsMu sync.Mutex
	sessions   map[string]clientSession

	messages chan clientMessage
}

// New constructs a Server bound to address:port, dispatching accepted
// requests to eng.
func New(address string, port int, eng Engine, workers int) *Server {
	if workers <= 0 {
		workers = defaultNWorkers
	}
	pool := NewWorkerPool(workers)
	return &Server{
		address:  address,
		port:     port,
		engine:   eng,
		workers:  workers,
		pool:     pool,
		sessions: make(map[string]clientSession),
		messages: make(chan clientMessage, 1),
	}
}

// Shutdown cancels the server's run context.
func (s *Server) Shutdown() {
	log.Info().Msg("frontend shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run accepts connections until ctx is cancelled. It blocks.
func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("error closing listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("frontend listening")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}
			s.addSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

// sessionHandler drains parsed messages and dispatches them to the
// engine, one at a time, off the accept/worker goroutines.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.messages:
			if err := s.handleMessage(msg); err != nil {
				log.Error().Err(err).Str("clientAddress", msg.clientAddress).Msg("error handling message")
				s.reply(msg.clientAddress, errorReport(err))
			}
		}
	}
}

func (s *Server) handleMessage(msg clientMessage) error {
	switch msg.message.GetType() {
	case NewOrder:
		m, ok := msg.message.(NewOrderMessage)
		if !ok {
			return ErrInvalidMessageType
		}
		order, trades, err := s.engine.Submit(m.SubmitRequest())
		if err != nil {
			return s.reply(msg.clientAddress, errorReport(err))
		}
		s.reply(msg.clientAddress, &Report{
			Type: ExecutionReport, OrderID: order.ID, Symbol: order.Symbol,
			Side: order.Side, Price: order.Price, Quantity: order.Remaining(),
			Status: order.Status,
		})
		for _, t := range trades {
			s.reply(msg.clientAddress, &Report{
				Type: ExecutionReport, OrderID: t.ID, Symbol: t.Symbol,
				Price: t.Price, Quantity: t.Quantity,
			})
		}
		return nil

	case CancelOrder:
		m, ok := msg.message.(CancelOrderMessage)
		if !ok {
			return ErrInvalidMessageType
		}
		if err := s.engine.Cancel(m.OrderID, m.Symbol); err != nil {
			return s.reply(msg.clientAddress, errorReport(err))
		}
		return s.reply(msg.clientAddress, &Report{Type: ExecutionReport, OrderID: m.OrderID, Symbol: m.Symbol, Status: engine.StatusCancelled})

	case ModifyOrder:
		m, ok := msg.message.(ModifyOrderMessage)
		if !ok {
			return ErrInvalidMessageType
		}
		ticks := m.NewPrice.Shift(PriceScale).Round(0).IntPart()
		trades, err := s.engine.Modify(m.OrderID, m.Symbol, m.NewQty, ticks)
		if err != nil {
			return s.reply(msg.clientAddress, errorReport(err))
		}
		for _, t := range trades {
			s.reply(msg.clientAddress, &Report{Type: ExecutionReport, OrderID: t.ID, Symbol: t.Symbol, Price: t.Price, Quantity: t.Quantity})
		}
		return nil

	case StatusQuery:
		m, ok := msg.message.(StatusQueryMessage)
		if !ok {
			return ErrInvalidMessageType
		}
		st, err := s.engine.Status(m.OrderID, m.Symbol)
		if err != nil {
			return s.reply(msg.clientAddress, errorReport(err))
		}
		return s.reply(msg.clientAddress, &Report{
			Type: StatusReport, OrderID: st.OrderID, Symbol: st.Symbol,
			Quantity: st.Remaining, Status: st.Status,
		})

	case MarketDataQuery:
		m, ok := msg.message.(MarketDataQueryMessage)
		if !ok {
			return ErrInvalidMessageType
		}
		md := s.engine.MarketData(m.Symbol, m.Levels)
		report := &Report{Type: MarketDataReport, Symbol: md.Symbol}
		if md.BestBid != nil {
			report.Price = *md.BestBid
		}
		return s.reply(msg.clientAddress, report)

	default:
		return ErrInvalidMessageType
	}
}

func (s *Server) reply(clientAddress string, report *Report) error {
	s.sessionsMu.Lock()
	session, ok := s.sessions[clientAddress]
	s.sessionsMu.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}

	data, err := report.Serialize()
	if err != nil {
		return fmt.Errorf("serialize report: %w", err)
	}
	if _, err := session.conn.Write(data); err != nil {
		s.deleteSession(clientAddress)
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// handleConnection reads the next message off conn, forwards it to the
// session handler and requeues conn for its next message. conn is closed
// when a read or parse fails or the pool is dying. Any returned error ends
// the worker and kills the pool's tomb (see WorkerPool.Setup).
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}
	closeConn := func() {
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("error closing connection")
		}
	}

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().Err(err).Msg("failed setting connection deadline")
		closeConn()
		return nil
	}

	buf := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		closeConn()
		return nil
	default:
		n, err := conn.Read(buf)
		if err != nil {
			s.deleteSession(conn.RemoteAddr().String())
			closeConn()
			return nil
		}

		msg, err := ParseMessage(buf[:n])
		if err != nil {
			log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("error parsing message")
			s.deleteSession(conn.RemoteAddr().String())
			closeConn()
			return nil
		}

		s.messages <- clientMessage{clientAddress: conn.RemoteAddr().String(), message: msg}
		s.pool.AddTask(conn)
	}
	return nil
}

func (s *Server) addSession(conn net.Conn) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[conn.RemoteAddr().String()] = clientSession{conn: conn}
}

func (s *Server) deleteSession(address string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, address)
}
