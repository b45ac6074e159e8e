package notify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/bot-api/telegram"
	"github.com/souvik131/ibex-iv/engine"
	"github.com/souvik131/ibex-iv/volatility"
)

type Sender interface {
	SendMessage(ctx context.Context, cfg telegram.MessageCfg) (*telegram.Message, error)
}

// Telegram posts a coverage summary to a chat after every run.
type Telegram struct {
	Sender Sender
	ChatID int64
}

// NewTelegram returns nil when no token is configured, which disables
// notifications.
func NewTelegram(token string, chatID int64) *Telegram {
	if token == "" || chatID == 0 {
		log.Printf("Telegram notifications disabled")
		return nil
	}
	return &Telegram{Sender: telegram.New(token), ChatID: chatID}
}

func (t *Telegram) Notify(ctx context.Context, r *engine.Result) error {
	_, err := t.Sender.SendMessage(ctx, telegram.NewMessage(t.ChatID, Message(r)))
	return err
}

// Message renders a run as plain text, one line per expiry.
func Message(r *engine.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "IV run %s (valued %s)\n", r.ScrapeDate, r.Valuation.Format("2006-01-02"))
	fmt.Fprintf(&sb, "%s\n", r.Coverage)

	type tally struct{ valid, total int }
	perExpiry := map[string]*tally{}
	for _, res := range r.Results {
		key := res.Quote.Expiry.Format("2006-01-02")
		if perExpiry[key] == nil {
			perExpiry[key] = &tally{}
		}
		perExpiry[key].total++
		if res.Status == volatility.StatusOK {
			perExpiry[key].valid++
		}
	}
	keys := make([]string, 0, len(perExpiry))
	for k := range perExpiry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %d/%d\n", k, perExpiry[k].valid, perExpiry[k].total)
	}
	if r.Skipped > 0 {
		fmt.Fprintf(&sb, "%d input rows skipped\n", r.Skipped)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
