package broker

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/schema"
)

const _quoteSubscribeID = 1

// StreamFeed consumes a vendor quote websocket and pushes quotes into
// the cascade's stream tier. The vendor frames are a thin JSON
// envelope; everything brokerage-specific stays on this side of the
// Broker surface.
type StreamFeed struct {
	wss *ws.WebSocket
}

// NewStreamFeed dials nothing yet; Start opens the connection.
func NewStreamFeed(ctx context.Context, url string) *StreamFeed {
	return &StreamFeed{
		wss: ws.New(ctx, url),
	}
}

func (f *StreamFeed) Len() int {
	return f.wss.Len()
}

func (f *StreamFeed) Close() {
	f.wss.Close()
}

func (f *StreamFeed) Start(ctx context.Context) error {
	if err := f.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start quote stream")
	}
	return nil
}

type quoteSubscribeRequest struct {
	Method string   `json:"method"`
	FIGIs  []string `json:"figis"`
	ID     int64    `json:"id"`
}

type quoteSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
	Error  any   `json:"error"`
}

type quoteUpdate struct {
	Method string  `json:"method"`
	FIGI   string  `json:"figi"`
	Price  float64 `json:"price"`
	TimeMs int64   `json:"time"`
}

// Subscribe requests push updates for the given instruments.
func (f *StreamFeed) Subscribe(ctx context.Context, figis []string) error {
	if err := f.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			payload := quoteSubscribeRequest{
				Method: "quotes.subscribe",
				FIGIs:  figis,
				ID:     _quoteSubscribeID,
			}
			if err := client.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("figis", figis)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[quoteSubscribeResponse](m)
			if !ok || resp.ID != _quoteSubscribeID {
				return false, nil
			}
			if resp.Error != nil {
				return false, errors.Errorf("subscribe rejected: %+v", resp.Error)
			}
			return true, nil
		},
	}); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	return nil
}

// Observe delivers pushed quotes to handler until unsubscribed.
func (f *StreamFeed) Observe(ctx context.Context, handler func(q schema.Quote)) (unsubscribe func()) {
	ch, cancel := f.wss.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				update, ok := ws.ReadMessage[quoteUpdate](m)
				if !ok || update.Method != "quotes.update" {
					continue
				}
				if update.Price <= 0 || update.FIGI == "" {
					logs.Errorf("discarding invalid quote update: %+v", update)
					continue
				}
				handler(schema.Quote{
					FIGI:  update.FIGI,
					Price: update.Price,
					Time:  time.UnixMilli(update.TimeMs).UTC(),
					Tier:  schema.TierStream,
				})
			}
		}
	}()

	return cancel
}
