package openflow

import (
	"encoding/json"
	"fmt"
)

// Codec turns messages into frames and back.
type Codec interface {
	Encode(m Message) ([]byte, error)
	Decode(frame []byte) (Message, error)
}

// JSONCodec frames every message as {"type": ..., "body": ...}.
type JSONCodec struct{}

type envelope struct {
	Type MessageType     `json:"type"`
	Body json.RawMessage `json:"body"`
}

func (JSONCodec) Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	return json.Marshal(envelope{Type: m.MessageType(), Body: body})
}

func (JSONCodec) Decode(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	var m Message
	switch env.Type {
	case TypeFlowMod:
		var v FlowMod
		if err := json.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		m = v
	case TypeBarrier:
		var v Barrier
		if err := json.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		m = v
	case TypeBarrierReply:
		var v BarrierReply
		if err := json.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		m = v
	case TypePacketIn:
		var v PacketIn
		if err := json.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		m = v
	case TypePortStats:
		var v PortStats
		if err := json.Unmarshal(env.Body, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		m = v
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	return m, nil
}

// EncodeAll encodes a batch, failing on the first error.
func EncodeAll(c Codec, msgs ...Message) ([][]byte, error) {
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		b, err := c.Encode(m)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
