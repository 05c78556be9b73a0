// Package chat relays chat messages between every connected websocket client.
package chat

import (
	"encoding/json"
	"errors"
)

// EventChatMessage is the only event the relay understands.
const EventChatMessage = "chat message"

// ErrUnknownEvent is returned when a frame carries an event other than EventChatMessage.
var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the JSON frame exchanged over the websocket.
type Envelope struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// NewMessage wraps text in a chat message envelope.
func NewMessage(text string) Envelope {
	return Envelope{Event: EventChatMessage, Data: text}
}

// Decode parses a frame and rejects anything but a chat message.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event != EventChatMessage {
		return Envelope{}, ErrUnknownEvent
	}
	return env, nil
}

// Encode serialises the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
