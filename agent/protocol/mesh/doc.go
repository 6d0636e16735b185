// Package mesh defines the wire format exchanged between skill-mesh peers.
//
// Every frame is an Envelope {id, type, from, timestamp, payload}; the
// payload is one variant of the Message tagged union selected by type.
// Validation happens once, in Decode, at the transport boundary.
package mesh
