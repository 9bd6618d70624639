package paper

import (
	"bufio"
	"context"
	"os"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"fxbot-go/internal/execution"
	"fxbot-go/internal/signal"
)

func TestJSONLRecorder(t *testing.T) {
	tmp := t.TempDir()
	path := tmp + "/trades/orders.jsonl"

	recorder, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder error: %v", err)
	}
	order := execution.NewOrder("GBPUSD", signal.Sell, decimal.RequireFromString("0.25"), execution.Market, time.Now().UTC())
	order.Status = execution.StatusRejected
	order.Reason = "market closed"
	if err := recorder.SaveTrade(context.Background(), order); err != nil {
		t.Fatalf("SaveTrade error: %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := recorder.SaveTrade(context.Background(), order); err == nil {
		t.Fatalf("expected error after close")
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recorded file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatalf("expected one line in recorder output")
	}
	var decoded execution.Order
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(scanner.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if decoded.ID != order.ID || decoded.Status != execution.StatusRejected || decoded.Reason != "market closed" {
		t.Fatalf("unexpected decoded order %+v", decoded)
	}
	if !decoded.Quantity.Equal(order.Quantity) || decoded.Price.Valid {
		t.Fatalf("unexpected decoded amounts %+v", decoded)
	}
}
