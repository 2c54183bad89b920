package media

import "github.com/vmihailenco/msgpack/v5"

// Control channel message types.
const (
	MessageMediaState = "media_state"
)

// MediaState tells a peer which of our tracks are live.
type MediaState struct {
	Audio bool `msgpack:"audio"`
	Video bool `msgpack:"video"`
}

// Message is one frame on the control data channel.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// DecodePayload decodes the message payload into v.
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage wraps payload in a Message of type t.
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

// EncodeMediaState returns the wire form of a media_state message.
func EncodeMediaState(s MediaState) ([]byte, error) {
	msg, err := NewMessage(MessageMediaState, s)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

// DecodeControl parses a control frame. ok is false for message types this
// version does not know.
func DecodeControl(data []byte) (state MediaState, ok bool, err error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return MediaState{}, false, err
	}
	if msg.Type != MessageMediaState {
		return MediaState{}, false, nil
	}
	if err := msg.DecodePayload(&state); err != nil {
		return MediaState{}, false, err
	}
	return state, true, nil
}
