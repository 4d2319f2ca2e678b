package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// EnvelopeProtocol identifies the league application protocol revision
// carried inside tool-call arguments.
const EnvelopeProtocol = "league/1.0"

// Sender identifies the agent that produced an envelope.
type Sender struct {
	AgentType string `json:"agent_type"`
	AgentID   string `json:"agent_id"`
}

// Envelope is the league application envelope carried as the arguments of
// every tool call between agents. The communication layer transports it
// opaquely: it never interprets MessageType and never validates Payload.
type Envelope struct {
	Protocol       string          `json:"protocol"`
	MessageType    string          `json:"message_type"`
	LeagueID       string          `json:"league_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Sender         Sender          `json:"sender"`
	AuthToken      string          `json:"auth_token,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps payload in an envelope stamped with the current time.
func NewEnvelope(messageType string, sender Sender, payload any) (Envelope, error) {
	env := Envelope{
		Protocol:    EnvelopeProtocol,
		MessageType: messageType,
		Timestamp:   time.Now().UTC(),
		Sender:      sender,
	}
	if payload != nil {
		bs, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal envelope payload: %w", err)
		}
		env.Payload = bs
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope %q has no payload", e.MessageType)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %q payload: %w", e.MessageType, err)
	}
	return nil
}

// LogValue implements slog.LogValuer. The auth token is masked so
// credentials never reach log output.
func (e Envelope) LogValue() slog.Value {
	token := ""
	if e.AuthToken != "" {
		token = "***"
	}
	return slog.GroupValue(
		slog.String("message_type", e.MessageType),
		slog.String("league_id", e.LeagueID),
		slog.String("conversation_id", e.ConversationID),
		slog.String("sender_type", e.Sender.AgentType),
		slog.String("sender_id", e.Sender.AgentID),
		slog.String("auth_token", token),
	)
}
