// Package protocol defines the JSON control messages exchanged over the text
// channel of a streaming connection. Audio travels as binary messages and is
// not represented here.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// ErrMalformed is returned by [Decode] for payloads that are not a JSON
// object with a non-empty "type" field.
var ErrMalformed = errors.New("protocol: malformed message")

// Type tags a control message.
type Type string

// Message types.
const (
	TypeHello    Type = "hello"
	TypeStop     Type = "stop"
	TypeTTSDone  Type = "tts_done"
	TypeFinalASR Type = "final_asr"
	TypeAIText   Type = "ai_text"
	TypeEmotion  Type = "emotion"
)

// IsText reports whether messages of type t carry display text.
func (t Type) IsText() bool { return t == TypeFinalASR || t == TypeAIText }

// Connection roles announced in the hello handshake.
const (
	RoleSender   = "sender"
	RolePlayback = "playback"
)

// CodecPCM16 is the only codec on the wire: raw signed 16-bit little-endian.
const CodecPCM16 = "PCM_S16LE"

// StreamSpec describes the audio a sender will transmit.
type StreamSpec struct {
	Codec    string `json:"codec"`
	Rate     int    `json:"rate"`
	Channels int    `json:"channels"`
	FrameMs  int    `json:"frame_ms"`
}

// DefaultSpec is the format produced by every capture backend.
func DefaultSpec() StreamSpec {
	return StreamSpec{
		Codec:    CodecPCM16,
		Rate:     audio.SampleRate,
		Channels: audio.Channels,
		FrameMs:  audio.FrameMs,
	}
}

// Message is the union of all control messages. Only the fields relevant to
// Type are set.
type Message struct {
	Type     Type        `json:"type"`
	Role     string      `json:"role,omitempty"`
	StreamID string      `json:"stream_id,omitempty"`
	Spec     *StreamSpec `json:"spec,omitempty"`
	Text     string      `json:"text,omitempty"`
	Emotion  string      `json:"emotion,omitempty"`
	UtterID  string      `json:"utter_id,omitempty"`
	Accepted bool        `json:"accepted,omitempty"`
}

// Hello builds the handshake for role. Senders identify their stream and
// announce the audio format; playback clients send only the role.
func Hello(role, streamID string) Message {
	m := Message{Type: TypeHello, Role: role}
	if role == RoleSender {
		spec := DefaultSpec()
		m.StreamID = streamID
		m.Spec = &spec
	}
	return m
}

// HelloAck is the server's reply to a hello.
func HelloAck(role string) Message {
	return Message{Type: TypeHello, Role: role, Accepted: true}
}

// Stop marks the end of an utterance on a sender connection.
func Stop() Message { return Message{Type: TypeStop} }

// TTSDone tells the playback client that synthesised audio for utterID is
// complete.
func TTSDone(utterID string) Message {
	return Message{Type: TypeTTSDone, UtterID: utterID}
}

// ASRText carries a recognised transcript.
func ASRText(text, utterID string) Message {
	return Message{Type: TypeFinalASR, Text: text, UtterID: utterID}
}

// AIText carries the assistant's reply text.
func AIText(text, utterID string) Message {
	return Message{Type: TypeAIText, Text: text, UtterID: utterID}
}

// Emotion carries an emotion label for the indicator.
func Emotion(label string) Message {
	return Message{Type: TypeEmotion, Emotion: label}
}

// Encode marshals m.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("protocol: encode: %w", ErrMalformed)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Decode parses a text payload. Unknown types decode successfully; callers
// ignore what they do not understand.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return m, nil
}
