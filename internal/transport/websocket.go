// ABOUTME: WebSocket implementation of the mesh packet channel
// ABOUTME: Carries opaque binary frames between two nodes
package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsPath is the endpoint mesh peers connect to.
const wsPath = "/chorale"

// wsReceiveDepth bounds the inbound payload queue per connection.
const wsReceiveDepth = 64

// wsConn adapts a websocket connection to the Channel interface.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	recv    chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn:   conn,
		recv:   make(chan []byte, wsReceiveDepth),
		closed: make(chan struct{}),
	}
	go c.readPump()
	return c
}

// Dial connects to a peer's websocket endpoint.
func Dial(addr string) (Channel, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: wsPath}
	log.Printf("Connecting to mesh peer %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return newWSConn(conn), nil
}

// Send transmits one payload as a binary frame. Write errors close the
// channel; the mesh treats the transport as lossy anyway.
func (c *wsConn) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return nil
	default:
	}

	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		c.Close()
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *wsConn) Receive() <-chan []byte {
	return c.recv
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	return nil
}

// readPump moves inbound frames into the receive queue until the
// connection dies.
func (c *wsConn) readPump() {
	defer func() {
		c.Close()
		close(c.recv)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				log.Printf("Websocket read ended: %v", err)
			}
			return
		}

		select {
		case c.recv <- data:
		default:
			// Lossy: a slow consumer drops frames.
		}
	}
}

// Listener accepts inbound mesh peer connections over websocket.
type Listener struct {
	server   *http.Server
	upgrader websocket.Upgrader
	accepted chan Channel
	addr     net.Addr

	closeOnce sync.Once
}

// Listen starts a websocket listener on addr. Each upgraded connection is
// delivered on Accept.
func Listen(addr string) (*Listener, error) {
	l := &Listener{
		accepted: make(chan Channel, 8),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, l.handleUpgrade)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}

	l.addr = ln.Addr()
	l.server = &http.Server{Handler: mux}
	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("Websocket listener stopped: %v", err)
		}
	}()

	log.Printf("Listening for mesh peers on %s%s", addr, wsPath)
	return l, nil
}

// Addr returns the bound listen address.
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Accept returns the channel on which inbound peer connections arrive.
func (l *Listener) Accept() <-chan Channel {
	return l.accepted
}

// Close shuts the listener down. Idempotent.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l.server.Shutdown(ctx)
		close(l.accepted)
	})
	return nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	ch := newWSConn(conn)
	select {
	case l.accepted <- ch:
	default:
		log.Printf("Accept queue full, dropping peer connection from %s", r.RemoteAddr)
		ch.Close()
	}
}
