package client

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eltffn/dane-table-app/internal/table"
)

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Subscribe connects to the live sync feed and replaces the editor's table
// on every init and update message. It blocks until ctx is done or the
// connection drops; reconnecting is the caller's choice.
func (e *Editor) Subscribe(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		switch frame.Type {
		case "init", "update":
			state, err := table.FromJSON(frame.Data)
			if err != nil {
				e.logger.Warn("malformed live sync frame", zap.Error(err))
				continue
			}
			e.Replace(state)
		default:
			// Unknown frame types are ignored for forward compatibility.
		}
	}
}
