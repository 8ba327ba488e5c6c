package types

import (
	"errors"
	"fmt"
)

// Role is the closed set of tag roles. Storage persists the short names
// "emp" and "key"; anything else is data corruption and is rejected when
// the row is read, so the engine never sees an unknown role.
type Role string

const (
	RoleEmployee Role = "emp"
	RoleKey      Role = "key"
)

var ErrUnknownRole = errors.New("unknown tag role")

// ParseRole validates a role read from storage.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleEmployee, RoleKey:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

func (r Role) String() string { return string(r) }

// TagEvent is one physical tap: the tag's hardware UID and the text
// content read from its writable memory.
type TagEvent struct {
	UID     int64
	Content string
}
