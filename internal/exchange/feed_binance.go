package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"fxbot-go/internal/signal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type binanceEnvelope struct {
	Stream string           `json:"stream"`
	Data   binanceKlineData `json:"data"`
}

type binanceKlineData struct {
	Event  string       `json:"e"`
	Symbol string       `json:"s"`
	Kline  binanceKline `json:"k"`
}

type binanceKline struct {
	OpenTime int64  `json:"t"`
	Interval string `json:"i"`
	Open     string `json:"o"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Close    string `json:"c"`
	Volume   string `json:"v"`
	Closed   bool   `json:"x"`
}

func (f *Feed) runBinance(ctx context.Context, out chan<- signal.BarUpdate) error {
	symbols := f.snapshotSymbols()
	if len(symbols) == 0 {
		return fmt.Errorf("binance feed requires at least one symbol")
	}

	interval := binanceInterval(f.interval)
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@kline_" + interval
	}

	url := f.binanceURL + "?streams=" + strings.Join(streams, "/")
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeBinanceStream(ctx, url, symbols, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Dur("backoff", backoff).Msg("binance feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) consumeBinanceStream(ctx context.Context, url string, symbols []string, out chan<- signal.BarUpdate) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Strs("symbols", symbols).Msg("connected market data feed")

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
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()
	// unblock ReadMessage on shutdown
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		var env binanceEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			f.log.Warn().Err(err).Msg("failed to decode binance message")
			continue
		}
		if !env.Data.Kline.Closed {
			continue
		}
		bar, err := parseBinanceKline(env.Data.Kline)
		if err != nil {
			f.log.Warn().Err(err).Str("stream", env.Stream).Msg("invalid kline from binance")
			continue
		}
		symbol := env.Data.Symbol
		if symbol == "" {
			symbol = parseBinanceSymbol(env.Stream)
		}
		if err := f.emit(ctx, out, signal.BarUpdate{Instrument: strings.ToUpper(symbol), Bar: bar}); err != nil {
			return err
		}
	}
}

func parseBinanceKline(k binanceKline) (signal.Bar, error) {
	var vals [5]float64
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return signal.Bar{}, err
		}
		vals[i] = v
	}
	if vals[3] <= 0 {
		return signal.Bar{}, errors.New("non-positive close")
	}
	return signal.Bar{
		Time:   time.UnixMilli(k.OpenTime).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

func parseBinanceSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}

// binanceInterval renders d in kline notation (1m, 4h, 1d).
func binanceInterval(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		m := int(d / time.Minute)
		if m < 1 {
			m = 1
		}
		return fmt.Sprintf("%dm", m)
	}
}
