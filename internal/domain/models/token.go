package models

import (
	"encoding/binary"
	"time"
)

// Access token wire layout (spec.md §3, §6):
//
//	HMAC-SHA256(32 bytes) || scope(1 byte) || user-id(8 bytes LE) || issue-time(8 bytes signed)
const (
	HMACSize       = 32
	TokenTailSize  = 1 + 8 + 8
	TokenTotalSize = HMACSize + TokenTailSize
)

// EncodeTokenTail lays out the signed portion of an access token: scope
// byte, little-endian user id, then the unix-second issue time.
func EncodeTokenTail(user UserInfo, issuedAt time.Time) []byte {
	tail := make([]byte, TokenTailSize)
	tail[0] = byte(user.Scope)
	binary.LittleEndian.PutUint64(tail[1:9], user.UserID)
	binary.LittleEndian.PutUint64(tail[9:17], uint64(issuedAt.Unix()))
	return tail
}

// DecodeTokenTail is the inverse of EncodeTokenTail.
func DecodeTokenTail(tail []byte) (UserInfo, time.Time, bool) {
	if len(tail) != TokenTailSize {
		return UserInfo{}, time.Time{}, false
	}
	scope := Scope(tail[0])
	if scope < ScopeNone || scope > ScopeOwner {
		return UserInfo{}, time.Time{}, false
	}
	userID := binary.LittleEndian.Uint64(tail[1:9])
	issuedAt := int64(binary.LittleEndian.Uint64(tail[9:17]))
	return UserInfo{Scope: scope, UserID: userID}, time.Unix(issuedAt, 0).UTC(), true
}
