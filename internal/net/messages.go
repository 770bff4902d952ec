package net

import (
	"encoding/json"

	"CollabBoard/internal/state"
)

type MessageType string

const (
	// MsgSync carries a full replica. Clients send one on every connect and
	// the hub answers with the room's replica.
	MsgSync MessageType = "sync"
	// MsgUpdate carries the ops of one transaction.
	MsgUpdate   MessageType = "update"
	MsgPresence MessageType = "presence"
	// MsgLeave tells the room a participant disconnected.
	MsgLeave MessageType = "leave"

	// audio call signalling, relayed verbatim
	MsgVoiceJoin   MessageType = "voice-join"
	MsgVoicePeers  MessageType = "voice-peers"
	MsgVoiceSignal MessageType = "voice-signal"
	MsgVoiceReturn MessageType = "voice-return"
	MsgVoiceLeave  MessageType = "voice-leave"
)

// Message is the single envelope exchanged between hub and clients.
type Message struct {
	Type MessageType `json:"type"`
	// From is filled in by the hub with the sender's client id.
	From string `json:"from,omitempty"`
	// To addresses a voice-signal or voice-return to one participant.
	To     string          `json:"to,omitempty"`
	Update *state.Update   `json:"update,omitempty"`
	State  state.State     `json:"state,omitempty"`
	Peers  []string        `json:"peers,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// IsVoice reports whether m belongs to the audio call protocol.
func (m *Message) IsVoice() bool {
	switch m.Type {
	case MsgVoiceJoin, MsgVoicePeers, MsgVoiceSignal, MsgVoiceReturn, MsgVoiceLeave:
		return true
	}
	return false
}

func encodeMessage(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(buf []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
