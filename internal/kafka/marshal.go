package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/pet-auction/internal/auction"
	"github.com/segmentio/kafka-go"
)

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeEnvelope reads the auction envelope carried in a message value.
// The x-event-type header wins over the body when both are present.
func DecodeEnvelope(m kafka.Message) (auction.Envelope, error) {
	var env auction.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, fmt.Errorf("decode envelope offset=%d: %w", m.Offset, err)
	}
	for _, h := range m.Headers {
		if h.Key == HeaderEventType && len(h.Value) > 0 {
			env.EventType = string(h.Value)
		}
	}
	return env, nil
}

// UnwrapPayload memudahkan decode payload spesifik
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
