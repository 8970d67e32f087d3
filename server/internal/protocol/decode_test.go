package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomcast/roomcast/pkg/types"
)

func TestDecode_Valid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Command
	}{
		{"init observer", `{"type":"init","data":{"role":"observer","token":"bob"}}`, Init{Role: types.RoleObserver, Token: "bob"}},
		{"init host alias", `{"type":"init","data":{"role":"host","token":"a"}}`, Init{Role: types.RoleAdmin, Token: "a"}},
		{"init with key", `{"type":"init","data":{"role":"admin","token":"a","key":"k"}}`, Init{Role: types.RoleAdmin, Token: "a", Key: "k"}},
		{"vote", `{"type":"vote","data":"yes"}`, Vote{Value: "yes"}},
		{"update_meta", `{"type":"update_meta","data":{"title":"T","description":""}}`, UpdateMeta{Title: "T"}},
		{"clear_vote bare", `{"type":"clear_vote"}`, ClearVote{}},
		{"clear_vote with data", `{"type":"clear_vote","data":{"x":1}}`, ClearVote{}},
		{"kick", `{"type":"kick","data":"bob"}`, Kick{Target: "bob"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecode_ProtocolErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `hello`, ErrMalformed},
		{"no type", `{"data":"x"}`, ErrMalformed},
		{"unknown type", `{"type":"dance"}`, ErrUnknownType},
		{"init without data", `{"type":"init"}`, ErrMissingData},
		{"init null data", `{"type":"init","data":null}`, ErrMissingData},
		{"init without token", `{"type":"init","data":{"role":"observer"}}`, ErrMissingData},
		{"init empty token", `{"type":"init","data":{"role":"observer","token":" "}}`, ErrMissingData},
		{"init bad role", `{"type":"init","data":{"role":"king","token":"t"}}`, ErrMissingData},
		{"vote object", `{"type":"vote","data":{"v":1}}`, ErrMissingData},
		{"vote empty", `{"type":"vote","data":""}`, ErrMissingData},
		{"vote missing", `{"type":"vote"}`, ErrMissingData},
		{"meta missing description", `{"type":"update_meta","data":{"title":"T"}}`, ErrMissingData},
		{"meta string", `{"type":"update_meta","data":"T"}`, ErrMissingData},
		{"kick missing", `{"type":"kick"}`, ErrMissingData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			require.Error(t, err)
			var pe *ProtocolError
			assert.True(t, errors.As(err, &pe), "want *ProtocolError, got %T", err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEncodeError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"protocol", protoErr("vote", ErrMissingData), types.CodeProtocol},
		{"authorization", &AuthorizationError{Action: "kick", Role: types.RoleObserver}, types.CodeUnauthorized},
		{"other", errors.New("boom"), types.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, data := decodeError(t, EncodeError(tc.err))
			assert.Equal(t, types.TypeError, env.Type)
			assert.Equal(t, tc.code, data.Code)
			assert.NotEmpty(t, data.Message)
		})
	}
}
