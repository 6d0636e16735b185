package mesh

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/skillmesh/types"
)

// Envelope is the frame sent over the transport.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	From      string          `json:"from,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode wraps msg in an envelope from the given device and serializes it.
func Encode(from string, msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msg.MessageType(), err)
	}
	env := Envelope{
		ID:        uuid.NewString(),
		Type:      msg.MessageType(),
		From:      from,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	return json.Marshal(&env)
}

// Decode parses a frame and validates its payload. Every failure is a
// types.ErrInvalidMessage error wrapping the specific sentinel.
func Decode(data []byte) (*Envelope, Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, invalid(fmt.Errorf("%w: %v", ErrMalformedFrame, err))
	}
	if env.Type == "" {
		return nil, nil, invalid(ErrMissingType)
	}
	factory, ok := factories[env.Type]
	if !ok {
		return nil, nil, invalid(fmt.Errorf("%w: %s", ErrUnknownType, env.Type))
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, nil, invalid(ErrMissingPayload)
	}

	msg := factory()
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, nil, invalid(fmt.Errorf("%w: %v", ErrPayloadMismatch, err))
	}
	if err := msg.Validate(); err != nil {
		return nil, nil, invalid(err)
	}
	return &env, msg, nil
}

func invalid(cause error) error {
	return types.NewError(types.ErrInvalidMessage, "invalid mesh message").WithCause(cause)
}
