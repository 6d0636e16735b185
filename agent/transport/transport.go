// Package transport carries serialized mesh frames between connected peers.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrPeerNotConnected is returned by Send when no link to the peer exists.
	ErrPeerNotConnected = errors.New("transport: peer not connected")
	// ErrTransportClosed is returned after Close.
	ErrTransportClosed = errors.New("transport: closed")
)

// Handler receives transport notifications. Calls for one peer are
// delivered in order and never concurrently.
type Handler interface {
	OnConnect(peerID string)
	OnDisconnect(peerID string)
	OnMessage(peerID string, data []byte)
}

// Transport sends frames to connected peers.
type Transport interface {
	// LocalID returns the peer ID other nodes use to address this node.
	LocalID() string
	Send(ctx context.Context, peerID string, data []byte) error
	Peers() []string
	SetHandler(h Handler)
	Close() error
}
