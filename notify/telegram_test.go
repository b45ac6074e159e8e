package notify_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bot-api/telegram"
	"github.com/souvik131/ibex-iv/engine"
	"github.com/souvik131/ibex-iv/notify"
	"github.com/souvik131/ibex-iv/volatility"
)

type fakeSender struct{ sent int }

func (f *fakeSender) SendMessage(ctx context.Context, cfg telegram.MessageCfg) (*telegram.Message, error) {
	f.sent++
	return &telegram.Message{}, nil
}

func result() *engine.Result {
	march := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	april := time.Date(2024, 4, 19, 0, 0, 0, 0, time.UTC)
	iv := 0.2
	results := []volatility.IVResult{
		{Quote: volatility.Quote{Expiry: april}, ImpliedVolatility: &iv, Status: volatility.StatusOK},
		{Quote: volatility.Quote{Expiry: march}, ImpliedVolatility: &iv, Status: volatility.StatusOK},
		{Quote: volatility.Quote{Expiry: march}, Status: volatility.StatusNoConvergence},
	}
	return &engine.Result{
		ScrapeDate: "2024-03-01",
		Valuation:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Skipped:    2,
		Results:    results,
		Coverage:   volatility.Summarize(results),
	}
}

func TestMessage(t *testing.T) {
	lines := strings.Split(notify.Message(result()), "\n")
	want := []string{
		"IV run 2024-03-01 (valued 2024-03-01)",
		"2 of 3 strikes produced a valid IV (no_underlying=0 invalid_input=0 no_convergence=1)",
		"2024-03-15: 1/2",
		"2024-04-19: 1/1",
		"2 input rows skipped",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %q, got %q", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestTelegram(t *testing.T) {
	if notify.NewTelegram("", 42) != nil || notify.NewTelegram("token", 0) != nil {
		t.Errorf("expected notifications to be disabled without a token and chat")
	}

	sender := &fakeSender{}
	n := &notify.Telegram{Sender: sender, ChatID: 42}
	if err := n.Notify(context.Background(), result()); err != nil {
		t.Fatalf("Notify returned an error: %v", err)
	}
	if sender.sent != 1 {
		t.Errorf("expected one message, got %d", sender.sent)
	}
}
