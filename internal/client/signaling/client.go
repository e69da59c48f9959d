package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qrave1/meshroom/internal/application/constant"
	"github.com/qrave1/meshroom/internal/domain/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	outgoingBuffer = 64
)

var ErrClosed = errors.New("signaling connection closed")

// Client - websocket соединение с сигнальным сервером.
// Incoming закрывается, когда соединение потеряно или закрыто
type Client struct {
	conn *websocket.Conn

	incoming chan events.Event
	outgoing chan events.Message

	done      chan struct{}
	closeOnce sync.Once
}

// Dial подключается к серверу и запускает read/write pump
func Dial(ctx context.Context, serverURL string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	c := &Client{
		conn:     conn,
		incoming: make(chan events.Event, 16),
		outgoing: make(chan events.Message, outgoingBuffer),
		done:     make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg events.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Debug("signaling read stopped", slog.Any(constant.Error, err))
			}
			return
		}

		ev, err := events.Decode(msg)
		if err != nil {
			slog.Warn(
				"skip signaling message",
				slog.Any(constant.Error, err),
				slog.String(constant.EventType, string(msg.Type)),
			)
			continue
		}

		select {
		case c.incoming <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("signaling write failed", slog.Any(constant.Error, err))
				c.shutdown()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			c.flush()

			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			return
		}
	}
}

// flush дописывает то, что уже стоит в очереди, например последний чат
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send ставит событие в очередь на отправку
func (c *Client) Send(ev events.Event) error {
	msg, err := events.Encode(ev)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) Incoming() <-chan events.Event {
	return c.incoming
}

// Done закрывается, когда соединение завершено с любой стороны
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close закрывает соединение. Повторный вызов ничего не делает
func (c *Client) Close() {
	c.shutdown()
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
