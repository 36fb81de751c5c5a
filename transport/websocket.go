// Package transport adapts non-byte-stream carriers into the duplex
// byte-stream contract a multiplex.Session expects: sequential reads
// yielding available bytes or EOF, sequential writes accepting a buffer,
// usable by one reader and one writer concurrently.
package transport

import (
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn wraps a websocket connection into a byte-stream transport.
// Each Write becomes one binary message; Reads drain messages in order. A
// websocket already guarantees ordered delivery, which is all a session
// needs from its carrier.
type WebSocketConn struct {
	*websocket.Conn
	reader io.Reader
}

func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{Conn: conn}
}

func (ws *WebSocketConn) Write(data []byte) (int, error) {
	err := ws.WriteMessage(websocket.BinaryMessage, data)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func (ws *WebSocketConn) Read(buf []byte) (int, error) {
	for {
		if ws.reader == nil {
			_, r, err := ws.NextReader()
			if err != nil {
				return 0, err
			}
			ws.reader = r
		}
		n, err := ws.reader.Read(buf)
		if err == io.EOF {
			// this message is drained, move on to the next one
			ws.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (ws *WebSocketConn) SetDeadline(t time.Time) error {
	err := ws.SetReadDeadline(t)
	if err != nil {
		return err
	}
	return ws.SetWriteDeadline(t)
}
