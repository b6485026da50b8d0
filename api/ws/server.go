// Package ws streams order book depth over websockets. One connection
// subscribes to one pair; the server pushes a Level2 snapshot on every
// tick. Prices and quantities render as decimal strings so clients
// never handle raw fixed-point units.
package ws

import (
	"math/big"
	"net/http"
	"time"

	"njord/domain/book"
	"njord/domain/pool"
	"njord/service"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type PriceLevel struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

type DepthSnapshot struct {
	Pair string       `json:"pair"`
	Ts   int64        `json:"ts"`
	Mid  string       `json:"mid,omitempty"`
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

type Server struct {
	svc      *service.Exchange
	interval time.Duration
	upgrader websocket.Upgrader
	log      *logrus.Logger
}

func NewServer(svc *service.Exchange, interval time.Duration, log *logrus.Logger) *Server {
	return &Server{
		svc:      svc,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Handler serves GET /depth?base=NJD&quote=USD.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/depth", s.handleDepth)
	return mux
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	pair := pool.Pair{
		Base:  r.URL.Query().Get("base"),
		Quote: r.URL.Query().Get("quote"),
	}
	if _, err := s.svc.TradeParams(pair); err != nil {
		http.Error(w, "unknown pair", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// drain client frames so pings and close frames are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for range ticker.C {
		snap, err := s.snapshot(pair)
		if err != nil {
			return
		}
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}
}

const wholeBook = ^uint64(0)

func (s *Server) snapshot(pair pool.Pair) (DepthSnapshot, error) {
	now := time.Now().UnixMilli()
	snap := DepthSnapshot{Pair: pair.String(), Ts: now}

	bidP, bidQ, err := s.svc.Level2Range(pair, 0, wholeBook, book.Bid, now)
	if err != nil {
		return snap, err
	}
	askP, askQ, err := s.svc.Level2Range(pair, 0, wholeBook, book.Ask, now)
	if err != nil {
		return snap, err
	}

	snap.Bids = renderLevels(bidP, bidQ)
	snap.Asks = renderLevels(askP, askQ)
	if mid, ok, err := s.svc.MidPrice(pair, now); err == nil && ok {
		snap.Mid = render(mid)
	}
	return snap, nil
}

func renderLevels(prices, qtys []uint64) []PriceLevel {
	out := make([]PriceLevel, len(prices))
	for i := range prices {
		out[i] = PriceLevel{Price: render(prices[i]), Qty: render(qtys[i])}
	}
	return out
}

// render converts 10^9 fixed point to a decimal string.
func render(v uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -9).String()
}
