package models

import "time"

// RevocationEntry blacklists credentials for a (user, app) pair issued
// before RevocationTime. An empty UserID or AppID acts as a wildcard for
// that dimension; an entry with both empty is a global floor that revokes
// every credential issued before RevocationTime (spec.md §3).
type RevocationEntry struct {
	UserID         []byte
	AppID          []byte
	RevocationTime time.Time
	ExpirationTime time.Time
}

// Expired reports whether the entry may be pruned at time now.
func (e RevocationEntry) Expired(now time.Time) bool {
	return !e.ExpirationTime.After(now)
}

// Matches reports whether this entry revokes a credential presented as
// (userID, appID) issued at issuedAt.
func (e RevocationEntry) Matches(userID, appID []byte, issuedAt time.Time) bool {
	if len(e.UserID) != 0 && !bytesEqual(e.UserID, userID) {
		return false
	}
	if len(e.AppID) != 0 && !bytesEqual(e.AppID, appID) {
		return false
	}
	return e.RevocationTime.After(issuedAt)
}

// IsWildcard reports whether the entry revokes every credential
// regardless of identity (both dimensions empty).
func (e RevocationEntry) IsWildcard() bool {
	return len(e.UserID) == 0 && len(e.AppID) == 0
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
