package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roomcast/roomcast/pkg/types"
)

// Command is a decoded client frame.
type Command interface {
	Type() string
}

// Init joins the connection's room with the requested role and token. Key is
// the optional privilege credential checked by the policy.
type Init struct {
	Role  types.Role
	Token string
	Key   string
}

// Vote upserts the caller's vote.
type Vote struct {
	Value string
}

// UpdateMeta replaces the room title and description.
type UpdateMeta struct {
	Title       string
	Description string
}

// ClearVote empties the vote map.
type ClearVote struct{}

// Kick removes every member holding Target.
type Kick struct {
	Target string
}

func (Init) Type() string       { return types.TypeInit }
func (Vote) Type() string       { return types.TypeVote }
func (UpdateMeta) Type() string { return types.TypeUpdateMeta }
func (ClearVote) Type() string  { return types.TypeClearVote }
func (Kick) Type() string       { return types.TypeKick }

// Decode parses raw into a Command. Every failure is a *ProtocolError.
func Decode(raw []byte) (Command, error) {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, protoErr("decode envelope", fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	if env.Type == "" {
		return nil, protoErr("decode envelope", fmt.Errorf("%w: type is required", ErrMalformed))
	}

	switch env.Type {
	case types.TypeInit:
		return decodeInit(env)
	case types.TypeVote:
		v, err := decodeString(env)
		if err != nil {
			return nil, err
		}
		return Vote{Value: v}, nil
	case types.TypeUpdateMeta:
		return decodeMeta(env)
	case types.TypeClearVote:
		return ClearVote{}, nil
	case types.TypeKick:
		v, err := decodeString(env)
		if err != nil {
			return nil, err
		}
		return Kick{Target: v}, nil
	}
	return nil, protoErr(fmt.Sprintf("type %q", env.Type), ErrUnknownType)
}

func decodeInit(env types.Envelope) (Command, error) {
	if !env.HasData() {
		return nil, protoErr(env.Type, ErrMissingData)
	}
	var d struct {
		Role  *string `json:"role"`
		Token *string `json:"token"`
		Key   string  `json:"key"`
	}
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return nil, protoErr(env.Type, fmt.Errorf("%w: %v", ErrMissingData, err))
	}
	if d.Role == nil || d.Token == nil || strings.TrimSpace(*d.Token) == "" {
		return nil, protoErr(env.Type, fmt.Errorf("%w: role and token are required", ErrMissingData))
	}
	role, ok := types.ParseRole(*d.Role)
	if !ok {
		return nil, protoErr(env.Type, fmt.Errorf("%w: unknown role %q", ErrMissingData, *d.Role))
	}
	return Init{Role: role, Token: *d.Token, Key: d.Key}, nil
}

func decodeMeta(env types.Envelope) (Command, error) {
	if !env.HasData() {
		return nil, protoErr(env.Type, ErrMissingData)
	}
	var d struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return nil, protoErr(env.Type, fmt.Errorf("%w: %v", ErrMissingData, err))
	}
	if d.Title == nil || d.Description == nil {
		return nil, protoErr(env.Type, fmt.Errorf("%w: title and description are required", ErrMissingData))
	}
	return UpdateMeta{Title: *d.Title, Description: *d.Description}, nil
}

// decodeString reads a non-empty JSON string payload.
func decodeString(env types.Envelope) (string, error) {
	if !env.HasData() {
		return "", protoErr(env.Type, ErrMissingData)
	}
	var s string
	if err := json.Unmarshal(env.Data, &s); err != nil {
		return "", protoErr(env.Type, fmt.Errorf("%w: expected a string", ErrMissingData))
	}
	if s == "" {
		return "", protoErr(env.Type, fmt.Errorf("%w: empty value", ErrMissingData))
	}
	return s, nil
}
