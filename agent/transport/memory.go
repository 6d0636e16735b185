package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DropFunc decides whether a frame from -> to is lost in transit.
type DropFunc func(from, to string, data []byte) bool

// MemoryNetwork is an in-process mesh of MemoryTransports.
type MemoryNetwork struct {
	mu    sync.RWMutex
	nodes map[string]*MemoryTransport
	links map[string]map[string]bool
	drop  DropFunc
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		nodes: make(map[string]*MemoryTransport),
		links: make(map[string]map[string]bool),
	}
}

// Join adds a node to the network and returns its transport.
func (n *MemoryNetwork) Join(peerID string) *MemoryTransport {
	t := &MemoryTransport{
		id:     peerID,
		net:    n,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	n.mu.Lock()
	n.nodes[peerID] = t
	n.mu.Unlock()

	t.wg.Add(1)
	go t.run()
	return t
}

// Connect links a and b and notifies both sides.
func (n *MemoryNetwork) Connect(a, b string) error {
	n.mu.Lock()
	ta, okA := n.nodes[a]
	tb, okB := n.nodes[b]
	if !okA || !okB {
		n.mu.Unlock()
		return fmt.Errorf("connect %s<->%s: unknown node", a, b)
	}
	if n.links[a] == nil {
		n.links[a] = make(map[string]bool)
	}
	if n.links[b] == nil {
		n.links[b] = make(map[string]bool)
	}
	n.links[a][b] = true
	n.links[b][a] = true
	n.mu.Unlock()

	ta.enqueue(func(h Handler) { h.OnConnect(b) })
	tb.enqueue(func(h Handler) { h.OnConnect(a) })
	return nil
}

// Disconnect removes the a<->b link and notifies both sides.
func (n *MemoryNetwork) Disconnect(a, b string) {
	n.mu.Lock()
	if !n.links[a][b] {
		n.mu.Unlock()
		return
	}
	delete(n.links[a], b)
	delete(n.links[b], a)
	ta, tb := n.nodes[a], n.nodes[b]
	n.mu.Unlock()

	if ta != nil {
		ta.enqueue(func(h Handler) { h.OnDisconnect(b) })
	}
	if tb != nil {
		tb.enqueue(func(h Handler) { h.OnDisconnect(a) })
	}
}

// SetDropFunc installs a loss filter. nil delivers everything.
func (n *MemoryNetwork) SetDropFunc(fn DropFunc) {
	n.mu.Lock()
	n.drop = fn
	n.mu.Unlock()
}

func (n *MemoryNetwork) deliver(from, to string, data []byte) error {
	n.mu.RLock()
	linked := n.links[from][to]
	target := n.nodes[to]
	drop := n.drop
	n.mu.RUnlock()

	if !linked || target == nil {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, to)
	}
	if drop != nil && drop(from, to, data) {
		return nil
	}
	frame := append([]byte(nil), data...)
	target.enqueue(func(h Handler) { h.OnMessage(from, frame) })
	return nil
}

func (n *MemoryNetwork) peersOf(id string) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	peers := make([]string, 0, len(n.links[id]))
	for p := range n.links[id] {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

func (n *MemoryNetwork) leave(id string) {
	n.mu.Lock()
	peers := n.links[id]
	delete(n.links, id)
	delete(n.nodes, id)
	var notify []*MemoryTransport
	for p := range peers {
		delete(n.links[p], id)
		if t := n.nodes[p]; t != nil {
			notify = append(notify, t)
		}
	}
	n.mu.Unlock()

	for _, t := range notify {
		t.enqueue(func(h Handler) { h.OnDisconnect(id) })
	}
}

// MemoryTransport is one node's endpoint on a MemoryNetwork. Inbound
// events are delivered from a single goroutine through an unbounded mailbox.
type MemoryTransport struct {
	id  string
	net *MemoryNetwork

	mu      sync.Mutex
	handler Handler
	queue   []func(Handler)
	closed  bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// LocalID returns the node's peer ID.
func (t *MemoryTransport) LocalID() string { return t.id }

// Send delivers data to a linked peer.
func (t *MemoryTransport) Send(ctx context.Context, peerID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	return t.net.deliver(t.id, peerID, data)
}

// Peers returns linked peers.
func (t *MemoryTransport) Peers() []string {
	return t.net.peersOf(t.id)
}

// SetHandler installs the inbound handler.
func (t *MemoryTransport) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Close leaves the network; linked peers observe a disconnect.
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.net.leave(t.id)
		close(t.done)
	})
	t.wg.Wait()
	return nil
}

func (t *MemoryTransport) enqueue(fn func(Handler)) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.queue = append(t.queue, fn)
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *MemoryTransport) run() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case <-t.notify:
		}
		for {
			t.mu.Lock()
			if len(t.queue) == 0 || t.closed {
				t.mu.Unlock()
				break
			}
			fn := t.queue[0]
			t.queue = t.queue[1:]
			h := t.handler
			t.mu.Unlock()

			if h != nil {
				fn(h)
			}
		}
	}
}

var _ Transport = (*MemoryTransport)(nil)
