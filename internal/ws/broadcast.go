package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// SnapshotSource produces the full snapshot sent to joining clients and on
// the periodic resync tick.
type SnapshotSource func() (*SnapshotPayload, error)

// Broadcaster fans engine state out to WebSocket clients. State updates are
// throttled latest-wins: queueing a new state before the flush fires
// replaces the pending one, so clients always converge on the newest cycle.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	source         SnapshotSource
	throttle       time.Duration
	maxConns       int
	snapshotTicker *time.Ticker

	flushMu      sync.Mutex
	pendingState *StatePayload
	flushTimer   *time.Timer

	quit chan struct{}
	done chan struct{}
}

// NewBroadcaster builds a broadcaster. maxConns of 0 means unlimited.
func NewBroadcaster(source SnapshotSource, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		source:   source,
		throttle: throttle,
		maxConns: maxConns,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// AddClient registers a connection and sends it the join snapshot. Returns
// nil and closes the connection when the client limit is reached.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		log.Printf("[ws] client limit %d reached, rejecting connection", b.maxConns)
		conn.Close()
		return nil
	}
	c := newClient(conn)
	b.clients[c] = true
	b.mu.Unlock()

	snapshot, err := b.source()
	if err != nil {
		log.Printf("[ws] snapshot for joining client failed: %v", err)
		return c
	}
	data, _ := json.Marshal(WSMessage{Type: MsgSnapshot, Payload: snapshot})

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// QueueState schedules a state update. Only the newest queued state is
// broadcast when the throttle window closes.
func (b *Broadcaster) QueueState(state *StatePayload) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingState = state

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// BroadcastObservers pushes the observer list to all clients immediately.
// Observer mutations are rare enough that they bypass the throttle.
func (b *Broadcaster) BroadcastObservers(observers []ObserverPayload) {
	b.broadcast(WSMessage{Type: MsgObservers, Payload: observers})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	state := b.pendingState
	b.pendingState = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if state == nil {
		return
	}

	b.broadcast(WSMessage{Type: MsgState, Payload: state})
}

func (b *Broadcaster) snapshotLoop() {
	defer close(b.done)
	for {
		select {
		case <-b.quit:
			return
		case <-b.snapshotTicker.C:
			snapshot, err := b.source()
			if err != nil {
				log.Printf("[ws] periodic snapshot failed: %v", err)
				continue
			}
			b.broadcast(WSMessage{Type: MsgSnapshot, Payload: snapshot})
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("[ws] client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop halts the periodic snapshot loop and waits for it to exit. Connected
// clients stay open.
func (b *Broadcaster) Stop() {
	b.snapshotTicker.Stop()
	close(b.quit)
	<-b.done
}
