// Package models holds devicecore's plain data types: the structures
// shared by the domain services in internal/domain/service without any
// dependency on how they are transported, persisted or scheduled.
package models

// Scope is a totally ordered authorization level. Zero value is None, the
// least privileged scope.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeViewer
	ScopeUser
	ScopeManager
	ScopeOwner
)

var scopeNames = map[Scope]string{
	ScopeNone:    "none",
	ScopeViewer:  "viewer",
	ScopeUser:    "user",
	ScopeManager: "manager",
	ScopeOwner:   "owner",
}

var scopeValues = map[string]Scope{
	"none":    ScopeNone,
	"viewer":  ScopeViewer,
	"user":    ScopeUser,
	"manager": ScopeManager,
	"owner":   ScopeOwner,
}

func (s Scope) String() string {
	if n, ok := scopeNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseScope maps a wire-visible scope name to a Scope. ok is false for an
// unrecognized name.
func ParseScope(name string) (Scope, bool) {
	s, ok := scopeValues[name]
	return s, ok
}

// AtLeast reports whether s is at least as privileged as min, i.e. the
// role-admission check used throughout command dispatch.
func (s Scope) AtLeast(min Scope) bool { return s >= min }

// UserInfo pairs an authorization scope with the numeric identity of the
// user it was granted to.
type UserInfo struct {
	Scope  Scope
	UserID uint64
}

// IsEmpty reports whether this is the zero UserInfo, used as the "no such
// user" sentinel the way SplitTokenData's kNone did in the original.
func (u UserInfo) IsEmpty() bool { return u.Scope == ScopeNone && u.UserID == 0 }
