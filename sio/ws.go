package sio

import (
	"context"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/noxide/loam/util"
)

// WebSocket is a Couplings that dials a WebSocket server and treats
// each text message as one payload.
type WebSocket struct {
	URL string

	Debug bool

	conn    *websocket.Conn
	outLock sync.Mutex
}

func NewWebSocket(u string) *WebSocket {
	return &WebSocket{URL: u}
}

func (c *WebSocket) logf(format string, args ...interface{}) {
	if c.Debug {
		util.Logf("sio.WebSocket "+format, args...)
	}
}

func (c *WebSocket) Start(ctx context.Context, in chan<- Input) error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return err
	}
	c.logf("dialing %s", u)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	c.conn = conn

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_, bs, err := conn.ReadMessage()
			if err != nil {
				c.logf("ReadMessage: %s", err)
				return
			}
			if len(bs) == 0 {
				continue
			}
			c.logf("heard %s", bs)
			select {
			case <-ctx.Done():
				return
			case in <- Input{Source: "ws", Body: bs, Reply: c.reply}:
			}
		}
	}()
	return nil
}

func (c *WebSocket) reply(bs []byte) error {
	c.outLock.Lock()
	defer c.outLock.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, bs)
}

func (c *WebSocket) Stop(ctx context.Context) error {
	c.logf("disconnecting")
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
