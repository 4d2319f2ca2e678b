package agent

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parityleague/league/internal/protocol"
)

// ErrUnauthorized rejects envelopes whose auth token does not match the
// receiving agent's configured token.
var ErrUnauthorized = errors.New("unauthorized")

// decodeEnvelope parses tool-call arguments as a league envelope of the
// expected message type. When token is non-empty the envelope must carry it.
func decodeEnvelope(args json.RawMessage, wantType, token string) (protocol.Envelope, error) {
	var env protocol.Envelope
	if err := json.Unmarshal(args, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.MessageType != wantType {
		return protocol.Envelope{}, fmt.Errorf("unexpected message type %q, want %q", env.MessageType, wantType)
	}
	if token != "" && env.AuthToken != token {
		return protocol.Envelope{}, ErrUnauthorized
	}
	return env, nil
}

// envelopeJSON builds an envelope around payload and marshals it, ready to
// be sent as tool-call arguments or returned as tool content.
func envelopeJSON(messageType string, sender protocol.Sender, leagueID, conversationID, token string, payload any) (json.RawMessage, error) {
	env, err := protocol.NewEnvelope(messageType, sender, payload)
	if err != nil {
		return nil, err
	}
	env.LeagueID = leagueID
	env.ConversationID = conversationID
	env.AuthToken = token
	return json.Marshal(env)
}
