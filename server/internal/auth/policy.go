package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/roomcast/roomcast/pkg/types"
)

// ErrPrivilegeDenied is returned when a token requests a privileged role the
// policy does not grant it.
var ErrPrivilegeDenied = errors.New("privileged role denied")

// Policy modes.
const (
	PolicyStatic      = "static"
	PolicyFirstJoiner = "first_joiner"
)

// Policy is safe for concurrent use.
type Policy struct {
	mode string

	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewPolicy returns a Policy for mode with the given admin keys.
func NewPolicy(mode string, keys []string) (*Policy, error) {
	switch mode {
	case PolicyStatic, PolicyFirstJoiner:
	default:
		return nil, fmt.Errorf("auth: unknown privilege policy %q", mode)
	}
	p := &Policy{mode: mode}
	p.SetKeys(keys)
	return p, nil
}

// Mode returns the policy mode.
func (p *Policy) Mode() string { return p.mode }

// SetKeys replaces the admin key set.
func (p *Policy) SetKeys(keys []string) {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	p.mu.Lock()
	p.keys = set
	p.mu.Unlock()
}

// Resolve returns the role granted to a joiner presenting key in a room whose
// owner key is owner. key is the privilege credential from init, never the
// public identity token; an empty key grants nothing beyond observer.
func (p *Policy) Resolve(owner, key string, requested types.Role) (types.Role, error) {
	if p.mode == PolicyFirstJoiner {
		if keyMatches(key, owner) {
			return types.RoleAdmin, nil
		}
		if requested.Privileged() {
			return "", fmt.Errorf("%w: key does not own the room", ErrPrivilegeDenied)
		}
		return types.RoleObserver, nil
	}

	if !requested.Privileged() {
		return types.RoleObserver, nil
	}
	if p.hasKey(key) {
		return types.RoleAdmin, nil
	}
	return "", fmt.Errorf("%w: not an admin key", ErrPrivilegeDenied)
}

func (p *Policy) hasKey(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for k := range p.keys {
		if keyMatches(key, k) {
			return true
		}
	}
	return false
}

// ParseKeys splits a comma-separated key list, trimming blanks.
func ParseKeys(csv string) []string {
	var out []string
	for _, k := range strings.Split(csv, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
