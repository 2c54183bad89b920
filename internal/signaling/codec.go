package signaling

import (
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type decoder func([]byte) (Envelope, error)

func decodeAs[T Envelope](data []byte) (Envelope, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var decoders = map[Type]decoder{
	TypeJoinRoom:         decodeAs[JoinRoom],
	TypeLeaveRoom:        decodeAs[LeaveRoom],
	TypeRoomUsers:        decodeAs[RoomUsers],
	TypeUserJoined:       decodeAs[UserJoined],
	TypeUserLeft:         decodeAs[UserLeft],
	TypeUserDisconnected: decodeAs[UserDisconnected],
	TypeOffer:            decodeAs[Offer],
	TypeAnswer:           decodeAs[Answer],
	TypeICECandidate:     decodeAs[ICECandidate],
	TypeTextMessage:      decodeAs[TextMessage],
	TypeMessageHistory:   decodeAs[MessageHistory],
	TypeTypingStart:      decodeAs[TypingStart],
	TypeTypingEnd:        decodeAs[TypingEnd],
	TypePing:             decodeAs[Ping],
	TypeError:            decodeAs[Error],
	TypeFileUploaded:     decodeAs[FileUploaded],
	TypeFileList:         decodeAs[FileList],
}

// Encode marshals env and sets its "type" field.
func Encode(env Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, &ProtocolError{Op: "encode", Type: env.Type(), Err: err}
	}
	out, err := sjson.SetBytes(body, "type", string(env.Type()))
	if err != nil {
		return nil, &ProtocolError{Op: "encode", Type: env.Type(), Err: err}
	}
	return out, nil
}

// Decode reads the "type" field of data and unmarshals it into the matching
// envelope. Any failure is a *ProtocolError.
func Decode(data []byte) (Envelope, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ProtocolError{Op: "decode", Err: ErrMalformed}
	}

	field := gjson.GetBytes(data, "type")
	if field.Type != gjson.String || field.Str == "" {
		return nil, &ProtocolError{Op: "decode", Err: ErrMissingType}
	}

	t := Type(field.Str)
	dec, ok := decoders[t]
	if !ok {
		return nil, &ProtocolError{Op: "decode", Type: t, Err: ErrUnknownType}
	}

	env, err := dec(data)
	if err != nil {
		return nil, &ProtocolError{Op: "decode", Type: t, Err: err}
	}
	return env, nil
}
