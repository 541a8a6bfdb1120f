// Command exchangectl is a minimal command-line client for exercising a
// running matchbook engine over its TCP frontend.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matchbook/matchbook/internal/engine"
	"github.com/matchbook/matchbook/internal/frontend"
	"github.com/shopspring/decimal"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:7070", "address of the matchbook frontend")
	owner := flag.String("owner", "", "user ID placing the order (compulsory)")
	action := flag.String("action", "place", "action to perform: place, cancel, modify, status, depth")

	symbol := flag.String("symbol", "AAPL", "symbol")
	sideStr := flag.String("side", "buy", "order side: buy or sell")
	price := flag.Float64("price", 100.0, "limit price")
	qtyStr := flag.String("qty", "10", "quantity, or comma-separated list (e.g. 10,20,50)")

	orderID := flag.String("order-id", "", "order ID for cancel/modify/status")

	flag.Parse()

	if *owner == "" && *action == "place" {
		fmt.Println("error: -owner is required to place an order")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s\n", *serverAddr)

	go readReports(conn)

	side := engine.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = engine.Sell
	}

	switch strings.ToLower(*action) {
	case "place":
		for _, qty := range parseQuantities(*qtyStr) {
			if err := sendNewOrder(conn, *owner, *symbol, side, *price, qty); err != nil {
				log.Printf("failed to place order (qty %d): %v", qty, err)
			} else {
				fmt.Printf("-> sent %s %s %d @ %.2f\n", strings.ToUpper(*sideStr), *symbol, qty, *price)
			}
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		requireOrderID(*orderID)
		if err := sendCancelOrder(conn, *symbol, *orderID); err != nil {
			log.Printf("failed to send cancel: %v", err)
		} else {
			fmt.Printf("-> sent cancel for %s\n", *orderID)
		}

	case "modify":
		requireOrderID(*orderID)
		qty, err := strconv.ParseInt(*qtyStr, 10, 64)
		if err != nil {
			log.Fatalf("invalid -qty: %v", err)
		}
		if err := sendModifyOrder(conn, *symbol, *orderID, *price, qty); err != nil {
			log.Printf("failed to send modify: %v", err)
		} else {
			fmt.Printf("-> sent modify for %s\n", *orderID)
		}

	case "status":
		requireOrderID(*orderID)
		if err := sendStatusQuery(conn, *symbol, *orderID); err != nil {
			log.Printf("failed to send status query: %v", err)
		}

	case "depth":
		if err := sendMarketDataQuery(conn, *symbol, 10); err != nil {
			log.Printf("failed to send market data query: %v", err)
		}

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("\nlistening for reports... (ctrl-C to exit)")
	select {}
}

func requireOrderID(id string) {
	if id == "" {
		log.Fatal("-order-id is required for this action")
	}
}

func parseQuantities(input string) []int64 {
	var out []int64
	for _, p := range strings.Split(input, ",") {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseInt(p, 10, 64); err == nil {
			out = append(out, val)
		} else {
			log.Printf("warning: invalid quantity %q, skipping", p)
		}
	}
	return out
}

func priceTicks(price float64) int64 {
	return decimal.NewFromFloat(price).Shift(frontend.PriceScale).Round(0).IntPart()
}

func sendNewOrder(conn net.Conn, owner, symbol string, side engine.Side, price float64, qty int64) error {
	body := make([]byte, 0, 1+1+len(symbol)+8+8+1+len(owner))
	body = append(body, byte(side))
	body = append(body, byte(len(symbol)))
	body = append(body, symbol...)

	var priceBuf, qtyBuf [8]byte
	binary.BigEndian.PutUint64(priceBuf[:], uint64(priceTicks(price)))
	binary.BigEndian.PutUint64(qtyBuf[:], uint64(qty))
	body = append(body, priceBuf[:]...)
	body = append(body, qtyBuf[:]...)

	body = append(body, byte(len(owner)))
	body = append(body, owner...)

	return writeFramed(conn, frontend.NewOrder, body)
}

func sendCancelOrder(conn net.Conn, symbol, orderID string) error {
	body := make([]byte, 0, 1+len(symbol)+1+len(orderID))
	body = append(body, byte(len(symbol)))
	body = append(body, symbol...)
	body = append(body, byte(len(orderID)))
	body = append(body, orderID...)
	return writeFramed(conn, frontend.CancelOrder, body)
}

func sendModifyOrder(conn net.Conn, symbol, orderID string, price float64, qty int64) error {
	body := make([]byte, 0, 1+len(symbol)+1+len(orderID)+16)
	body = append(body, byte(len(symbol)))
	body = append(body, symbol...)
	body = append(body, byte(len(orderID)))
	body = append(body, orderID...)

	var priceBuf, qtyBuf [8]byte
	binary.BigEndian.PutUint64(priceBuf[:], uint64(priceTicks(price)))
	binary.BigEndian.PutUint64(qtyBuf[:], uint64(qty))
	body = append(body, priceBuf[:]...)
	body = append(body, qtyBuf[:]...)
	return writeFramed(conn, frontend.ModifyOrder, body)
}

func sendStatusQuery(conn net.Conn, symbol, orderID string) error {
	body := make([]byte, 0, 1+len(symbol)+1+len(orderID))
	body = append(body, byte(len(symbol)))
	body = append(body, symbol...)
	body = append(body, byte(len(orderID)))
	body = append(body, orderID...)
	return writeFramed(conn, frontend.StatusQuery, body)
}

func sendMarketDataQuery(conn net.Conn, symbol string, levels int) error {
	body := make([]byte, 0, 1+len(symbol)+1)
	body = append(body, byte(len(symbol)))
	body = append(body, symbol...)
	body = append(body, byte(levels))
	return writeFramed(conn, frontend.MarketDataQuery, body)
}

func writeFramed(conn net.Conn, typeOf frontend.MessageType, body []byte) error {
	buf := make([]byte, 0, 1+len(body))
	buf = append(buf, byte(typeOf))
	buf = append(buf, body...)
	_, err := conn.Write(buf)
	return err
}

// readReports continuously reads and prints Report messages from the
// server. It trusts the frontend.Report wire layout directly rather than
// importing frontend's parser, since the client only ever reads reports
// (never requests), mirroring the asymmetric client/server relationship
// the original CLI client used.
func readReports(conn net.Conn) {
	for {
		header := make([]byte, 4)
		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF {
				log.Printf("connection lost: %v", err)
			}
			os.Exit(0)
		}

		reportType := header[0]
		side := engine.Side(header[1])
		status := engine.OrderStatus(header[2])
		symLen := int(header[3])

		symBuf := make([]byte, symLen+1)
		if _, err := io.ReadFull(conn, symBuf); err != nil {
			log.Printf("error reading report body: %v", err)
			return
		}
		symbol := string(symBuf[:symLen])
		orderIDLen := int(symBuf[symLen])

		rest := make([]byte, orderIDLen+8+8+2)
		if _, err := io.ReadFull(conn, rest); err != nil {
			log.Printf("error reading report body: %v", err)
			return
		}
		orderID := string(rest[:orderIDLen])
		price := int64(binary.BigEndian.Uint64(rest[orderIDLen : orderIDLen+8]))
		qty := int64(binary.BigEndian.Uint64(rest[orderIDLen+8 : orderIDLen+16]))
		errLen := binary.BigEndian.Uint16(rest[orderIDLen+16 : orderIDLen+18])

		errStr := ""
		if errLen > 0 {
			errBuf := make([]byte, errLen)
			if _, err := io.ReadFull(conn, errBuf); err != nil {
				log.Printf("error reading report error string: %v", err)
				return
			}
			errStr = string(errBuf)
		}

		if frontend.ReportType(reportType) == frontend.ErrorReport {
			fmt.Printf("\n[ERROR] %s\n", errStr)
			continue
		}

		priceDec := decimal.New(price, -frontend.PriceScale)
		fmt.Printf("\n[%s] %s %s order=%s qty=%d price=%s status=%s\n",
			reportName(frontend.ReportType(reportType)), symbol, side, orderID, qty, priceDec.String(), status)
	}
}

func reportName(t frontend.ReportType) string {
	switch t {
	case frontend.ExecutionReport:
		return "EXECUTION"
	case frontend.StatusReport:
		return "STATUS"
	case frontend.MarketDataReport:
		return "MARKET_DATA"
	default:
		return "UNKNOWN"
	}
}
