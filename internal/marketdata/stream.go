package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// Quote is a live price/volume observation used to mark the latest bar between
// candle fetches.
type Quote struct {
	Symbol string
	Price  float64
	Volume float64
	Ts     time.Time
}

// QuoteStream consumes a trade websocket and republishes quotes. Reconnects
// with bounded exponential backoff until the context is canceled.
type QuoteStream struct {
	url     string
	symbols []string
	log     zerolog.Logger
}

// NewQuoteStream builds a stream for the given endpoint and symbol list.
func NewQuoteStream(url string, symbols []string, log zerolog.Logger) *QuoteStream {
	return &QuoteStream{url: url, symbols: symbols, log: log}
}

type streamEnvelope struct {
	Stream string      `json:"stream"`
	Data   streamTrade `json:"data"`
}

type streamTrade struct {
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// Run pushes quotes onto out until ctx is canceled.
func (s *QuoteStream) Run(ctx context.Context, out chan<- Quote) error {
	if len(s.symbols) == 0 {
		return fmt.Errorf("quote stream requires at least one symbol")
	}

	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	url := fmt.Sprintf("%s/stream?streams=%s", strings.TrimSuffix(s.url, "/"), strings.Join(streams, "/"))

	retry := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.consume(ctx, url, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn().Err(err).Msg("quote stream disconnected, retrying")
			select {
			case <-time.After(retry.Duration()):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
}

func (s *QuoteStream) consume(ctx context.Context, url string, out chan<- Quote) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info().Strs("symbols", s.symbols).Msg("connected quote stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		quote, err := parseQuote(message)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to decode stream message")
			continue
		}
		select {
		case out <- quote:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseQuote(message []byte) (Quote, error) {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return Quote{}, err
	}
	px, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("invalid price %q", env.Data.Price)
	}
	qty, err := strconv.ParseFloat(env.Data.Quantity, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("invalid quantity %q", env.Data.Quantity)
	}
	return Quote{
		Symbol: parseStreamSymbol(env.Stream),
		Price:  px,
		Volume: qty,
		Ts:     time.UnixMilli(env.Data.TradeTime),
	}, nil
}

func parseStreamSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
