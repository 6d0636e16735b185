package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/skillmesh/internal/tlsutil"
)

// PeerHeader carries the sender's peer ID during the WebSocket handshake.
const PeerHeader = "X-Mesh-Peer"

// WebSocketConfig configures a WebSocketTransport.
type WebSocketConfig struct {
	// ReadLimit is the maximum frame size in bytes.
	ReadLimit int64 `json:"read_limit" yaml:"read_limit"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// DialTimeout bounds the handshake with a seed peer.
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// RateLimit is the sustained inbound frames per second per peer. Frames
	// over the budget are read late, not dropped. Zero disables limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`

	// RateBurst is the inbound burst size per peer.
	RateBurst int `json:"rate_burst" yaml:"rate_burst"`

	// TLS is used when dialing wss:// peers. Nil uses hardened defaults
	// with the system roots.
	TLS *tls.Config `json:"-" yaml:"-"`
}

// DefaultWebSocketConfig returns sensible defaults.
func DefaultWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{
		ReadLimit:    1 << 20,
		WriteTimeout: 10 * time.Second,
		DialTimeout:  5 * time.Second,
		RateLimit:    200,
		RateBurst:    400,
	}
}

type wsPeer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
}

// WebSocketTransport links peers over WebSocket connections. It accepts
// inbound connections as an http.Handler and dials seed peers with Dial.
type WebSocketTransport struct {
	localID string
	config  *WebSocketConfig

	mu      sync.RWMutex
	peers   map[string]*wsPeer
	handler Handler
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewWebSocketTransport creates a transport identified as localID.
func NewWebSocketTransport(localID string, config *WebSocketConfig, logger *zap.Logger) *WebSocketTransport {
	if config == nil {
		config = DefaultWebSocketConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketTransport{
		localID: localID,
		config:  config,
		peers:   make(map[string]*wsPeer),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(zap.String("component", "ws_transport"), zap.String("local_peer", localID)),
	}
}

// LocalID returns the node's peer ID.
func (t *WebSocketTransport) LocalID() string { return t.localID }

// SetHandler installs the inbound handler.
func (t *WebSocketTransport) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// ServeHTTP accepts an inbound peer connection.
func (t *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	peerID := r.Header.Get(PeerHeader)
	if peerID == "" {
		http.Error(w, "missing "+PeerHeader, http.StatusBadRequest)
		return
	}
	if peerID == t.localID {
		http.Error(w, "peer id collides with local node", http.StatusConflict)
		return
	}

	w.Header().Set(PeerHeader, t.localID)
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket accept failed", zap.String("peer_id", peerID), zap.Error(err))
		return
	}
	if !t.attach(peerID, conn) {
		return
	}
	t.logger.Info("peer connected", zap.String("peer_id", peerID), zap.String("direction", "inbound"))
}

// Dial connects to a peer at url and returns its peer ID.
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.config.DialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set(PeerHeader, t.localID)
	opts := &websocket.DialOptions{HTTPHeader: header}
	if strings.HasPrefix(url, "wss://") {
		opts.HTTPClient = tlsutil.SecureHTTPClient(t.config.TLS, 0)
	}
	conn, resp, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return "", fmt.Errorf("websocket dial %s: %w", url, err)
	}
	peerID := resp.Header.Get(PeerHeader)
	if peerID == "" {
		_ = conn.Close(websocket.StatusPolicyViolation, "missing peer id")
		return "", fmt.Errorf("websocket dial %s: remote did not identify itself", url)
	}
	if !t.attach(peerID, conn) {
		return "", ErrTransportClosed
	}
	t.logger.Info("peer connected", zap.String("peer_id", peerID), zap.String("direction", "outbound"))
	return peerID, nil
}

func (t *WebSocketTransport) attach(peerID string, conn *websocket.Conn) bool {
	conn.SetReadLimit(t.config.ReadLimit)

	p := &wsPeer{conn: conn}
	if t.config.RateLimit > 0 {
		burst := t.config.RateBurst
		if burst <= 0 {
			burst = int(t.config.RateLimit)
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(t.config.RateLimit), burst)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return false
	}
	old := t.peers[peerID]
	t.peers[peerID] = p
	h := t.handler
	t.mu.Unlock()

	if old != nil {
		_ = old.conn.Close(websocket.StatusNormalClosure, "replaced")
	}
	if h != nil && old == nil {
		h.OnConnect(peerID)
	}

	t.wg.Add(1)
	go t.readLoop(peerID, p)
	return true
}

func (t *WebSocketTransport) readLoop(peerID string, p *wsPeer) {
	defer t.wg.Done()

	for {
		_, data, err := p.conn.Read(t.ctx)
		if err != nil {
			t.detach(peerID, p, err)
			return
		}
		// Waiting stalls reads, so TCP flow control slows the sender.
		// Frames are never dropped.
		if p.limiter != nil {
			if err := p.limiter.Wait(t.ctx); err != nil {
				t.detach(peerID, p, err)
				return
			}
		}

		t.mu.RLock()
		h := t.handler
		t.mu.RUnlock()
		if h != nil {
			h.OnMessage(peerID, data)
		}
	}
}

func (t *WebSocketTransport) detach(peerID string, p *wsPeer, cause error) {
	t.mu.Lock()
	current := t.peers[peerID] == p
	if current {
		delete(t.peers, peerID)
	}
	h := t.handler
	t.mu.Unlock()

	_ = p.conn.Close(websocket.StatusNormalClosure, "")
	if !current {
		return
	}
	if websocket.CloseStatus(cause) == websocket.StatusNormalClosure || errors.Is(cause, context.Canceled) {
		t.logger.Info("peer disconnected", zap.String("peer_id", peerID))
	} else {
		t.logger.Warn("peer connection lost", zap.String("peer_id", peerID), zap.Error(cause))
	}
	if h != nil {
		h.OnDisconnect(peerID)
	}
}

// Send writes one frame to peerID.
func (t *WebSocketTransport) Send(ctx context.Context, peerID string, data []byte) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	p, ok := t.peers[peerID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, peerID)
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.WriteTimeout)
	defer cancel()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write to %s: %w", peerID, err)
	}
	return nil
}

// Peers returns connected peers.
func (t *WebSocketTransport) Peers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close closes every connection and waits for read loops to exit.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peers := make([]*wsPeer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
	t.cancel()
	t.wg.Wait()
	t.logger.Info("websocket transport closed")
	return nil
}

var _ Transport = (*WebSocketTransport)(nil)
