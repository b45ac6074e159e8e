package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/souvik131/ibex-iv/engine"
	"github.com/souvik131/ibex-iv/store"
	"github.com/souvik131/ibex-iv/volatility"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Update is what websocket clients receive after every run.
type Update struct {
	ScrapeDate string              `json:"scrape_date"`
	ComputedAt time.Time           `json:"computed_at"`
	Coverage   volatility.Coverage `json:"coverage"`
	Rows       []store.Row         `json:"rows"`
}

func newUpdate(r *engine.Result) *Update {
	return &Update{
		ScrapeDate: r.ScrapeDate,
		ComputedAt: r.ComputedAt,
		Coverage:   r.Coverage,
		Rows:       store.NewRows(r.Results),
	}
}

// Hub fans updates out to connected websocket clients. A client that falls
// behind loses updates rather than blocking the others.
type Hub struct {
	mu      sync.Mutex
	clients map[chan *Update]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: map[chan *Update]struct{}{}}
}

func (h *Hub) Broadcast(r *engine.Result) {
	u := newUpdate(r)
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- u:
		default:
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add() chan *Update {
	ch := make(chan *Update, 4)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) remove(ch chan *Update) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// serve pushes initial, if any, and then every broadcast until the client
// goes away.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, initial *engine.Result) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ch := h.add()
	defer h.remove(ch)

	ctx := conn.CloseRead(r.Context())
	if initial != nil {
		if err := write(ctx, conn, newUpdate(initial)); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case u := <-ch:
			if err := write(ctx, conn, u); err != nil {
				log.Printf("websocket write: %v", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, u *Update) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, u)
}
