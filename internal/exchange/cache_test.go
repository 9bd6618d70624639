package exchange

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"fxbot-go/internal/signal"
)

func TestCacheAppendDropsStaleBars(t *testing.T) {
	c := NewCache(3)
	closes := []float64{1.00, 1.01, 1.02, 1.03, 1.04}
	for i, px := range closes {
		if !c.Append(signal.BarUpdate{Instrument: "EURUSD", Bar: barAt(i, px)}) {
			t.Fatalf("bar %d should be accepted", i)
		}
	}
	if c.Append(signal.BarUpdate{Instrument: "EURUSD", Bar: barAt(2, 9)}) {
		t.Fatal("stale bar should be dropped")
	}
	if c.Append(signal.BarUpdate{Instrument: "EURUSD", Bar: barAt(4, 9)}) {
		t.Fatal("duplicate bar should be dropped")
	}

	bars, err := c.Recent(context.Background(), "EURUSD", 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(bars) != 3 || bars[0].Close != 1.02 || bars[2].Close != 1.04 {
		t.Fatalf("unexpected bars %+v", bars)
	}
	if bars, _ := c.Recent(context.Background(), "EURUSD", 2); len(bars) != 2 || bars[1].Close != 1.04 {
		t.Fatalf("limit not honored: %+v", bars)
	}
	if bars, _ := c.Recent(context.Background(), "GBPUSD", 2); bars != nil {
		t.Fatalf("expected no bars for unknown instrument, got %+v", bars)
	}
}

func TestCacheSeed(t *testing.T) {
	c := NewCache(0)
	n := c.Seed("USDJPY", []signal.Bar{barAt(0, 150), barAt(1, 151), barAt(1, 152)})
	if n != 2 || c.Len("USDJPY") != 2 {
		t.Fatalf("expected 2 seeded bars, got %d/%d", n, c.Len("USDJPY"))
	}
	if got := c.Instruments(); len(got) != 1 || got[0] != "USDJPY" {
		t.Fatalf("unexpected instruments %v", got)
	}
}

func TestCacheLatest(t *testing.T) {
	ctx := context.Background()
	c := NewCache(0)
	if _, ok, _ := c.Latest(ctx, "EURUSD"); ok {
		t.Fatal("expected no quote before any data")
	}

	c.Append(signal.BarUpdate{Instrument: "EURUSD", Bar: barAt(0, 1.1)})
	q, ok, err := c.Latest(ctx, "EURUSD")
	if err != nil || !ok {
		t.Fatalf("expected derived quote, got ok=%v err=%v", ok, err)
	}
	if q.Bid != 1.1 || math.Abs(q.Ask-1.1002) > 1e-12 {
		t.Fatalf("unexpected derived quote %+v", q)
	}

	live := signal.Quote{Instrument: "EURUSD", Bid: 1.1003, Ask: 1.1004, Time: barAt(0, 0).Time.Add(30 * time.Second)}
	c.SetQuote(live)
	if q, _, _ := c.Latest(ctx, "EURUSD"); q != live {
		t.Fatalf("expected live quote, got %+v", q)
	}

	// a newer close supersedes an older live quote
	c.Append(signal.BarUpdate{Instrument: "EURUSD", Bar: barAt(1, 1.2)})
	if q, _, _ := c.Latest(ctx, "EURUSD"); q.Bid != 1.2 {
		t.Fatalf("expected quote from newer bar, got %+v", q)
	}

	c.Append(signal.BarUpdate{Instrument: "USDJPY", Bar: barAt(0, 150)})
	if q, _, _ := c.Latest(ctx, "USDJPY"); math.Abs(q.Ask-150.02) > 1e-9 {
		t.Fatalf("JPY spread should use 0.01 pips, got %+v", q)
	}
}

func TestCacheHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewCache(0)
	if _, err := c.Recent(ctx, "EURUSD", 1); err == nil {
		t.Fatal("expected context error")
	}
	if _, _, err := c.Latest(ctx, "EURUSD"); err == nil {
		t.Fatal("expected context error")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache(50)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c.Append(signal.BarUpdate{Instrument: "EURUSD", Bar: barAt(i, 1)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = c.Recent(context.Background(), "EURUSD", 20)
			_, _, _ = c.Latest(context.Background(), "EURUSD")
		}
	}()
	wg.Wait()
	if c.Len("EURUSD") != 50 {
		t.Fatalf("expected capped history of 50, got %d", c.Len("EURUSD"))
	}
}
