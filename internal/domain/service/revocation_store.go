package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/internal/domain/repository"
	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

const revocationStoreKey = "black_list"

// y2kEpochOffset is the number of seconds between the Unix epoch and
// 2000-01-01T00:00:00Z. The blacklist's wire format stores revocation
// and expiration times relative to the Y2K epoch, not the Unix epoch
// (original_source/src/access_revocation_manager_impl_unittest.cc's
// Init test: a stored expiration of 473315199 decodes to Unix time
// 1419999999, i.e. 473315199+946684800).
const y2kEpochOffset = 946684800

type revocationEntryDTO struct {
	User       string `json:"user"`
	App        string `json:"app"`
	Expiration int64  `json:"expiration"`
	Revocation int64  `json:"revocation"`
}

// revocationManager implements C1: a persistent, capacity-bounded
// blacklist of revoked (user, app) credential pairs.
type revocationManager struct {
	store    repository.ConfigStore
	clock    repository.Clock
	log      logger.Logger
	capacity int
	entries  []models.RevocationEntry
	onAdded  []func()
}

// NewRevocationStore constructs C1 against a ConfigStore-backed
// blacklist, grounded on the original's AccessRevocationManagerImpl.
func NewRevocationStore(store repository.ConfigStore, clock repository.Clock, capacity int, log logger.Logger) RevocationStore {
	return &revocationManager{store: store, clock: clock, capacity: capacity, log: log}
}

// Load reads the blacklist from the config store and drops any entry
// whose expiration has already passed. If pruning actually removed
// something, the trimmed set is written back immediately so the
// persisted form never lags the in-memory invariant (spec.md §4.1).
func (m *revocationManager) Load(ctx context.Context) error {
	raw, err := m.store.Load(ctx, revocationStoreKey)
	if err != nil {
		return errors.Wrap(err, errors.NetworkError, "loading blacklist")
	}
	if len(raw) == 0 {
		return nil
	}
	var dtos []revocationEntryDTO
	if err := json.Unmarshal(raw, &dtos); err != nil {
		return errors.Wrap(err, errors.InvalidFormat, "parsing blacklist")
	}
	now := m.clock.Now()
	entries := make([]models.RevocationEntry, 0, len(dtos))
	pruned := false
	for _, d := range dtos {
		entry, err := decodeEntry(d)
		if err != nil {
			return err
		}
		if entry.Expired(now) {
			pruned = true
			continue
		}
		entries = append(entries, entry)
	}
	m.entries = entries
	if pruned {
		m.persist(ctx, nil)
	}
	return nil
}

func (m *revocationManager) Size() int { return len(m.entries) }

func (m *revocationManager) OnEntryAdded(fn func()) { m.onAdded = append(m.onAdded, fn) }

// Block inserts entry, evicting the soonest-expiring entry (and, if that
// eviction would un-revoke a still-blocked credential, raising a
// wildcard floor to preserve the "still blocked" invariant) when the
// store is already at capacity. Size must never exceed capacity (spec.md
// §4.1, §8's testable property, and the ground-truth
// AccessRevocationManagerImpl::BlockListOverflow, which ends a run of
// capacity+3 inserts back at exactly GetCapacity()), so a freshly created
// floor entry can never be the thing that pushes size past capacity — see
// the case analysis below. See also Design Notes §9.
func (m *revocationManager) Block(ctx context.Context, entry models.RevocationEntry, done func(error)) error {
	now := m.clock.Now()
	if entry.Expired(now) {
		return errors.New(errors.AlreadyExpired, "revocation entry already expired")
	}

	if len(m.entries) >= m.capacity {
		evictIdx := soonestExpiringIndex(m.entries)
		evicted := m.entries[evictIdx]
		m.entries = append(m.entries[:evictIdx], m.entries[evictIdx+1:]...)

		if !m.raiseWildcardFloor(evicted) {
			// No wildcard floor remains to absorb evicted's protection
			// (evicted may itself have been the floor),
			// and creating one would grow the store by one. Evict a
			// second entry (the next soonest-expiring) and fold its
			// protection into the same new floor, so the floor's
			// creation nets to zero instead of +1. If nothing else is
			// left to evict (capacity 1), there is no spare slot for a
			// standalone floor at all — widen the entry being inserted
			// into the floor itself instead of growing past capacity;
			// Design Notes §9 accepts the resulting over-revocation.
			if len(m.entries) > 0 {
				secondIdx := soonestExpiringIndex(m.entries)
				second := m.entries[secondIdx]
				m.entries = append(m.entries[:secondIdx], m.entries[secondIdx+1:]...)
				m.entries = append(m.entries, models.RevocationEntry{
					RevocationTime: maxTime(evicted.RevocationTime, second.RevocationTime),
					ExpirationTime: maxTime(evicted.ExpirationTime, second.ExpirationTime),
				})
			} else {
				entry = models.RevocationEntry{
					RevocationTime: maxTime(entry.RevocationTime, evicted.RevocationTime),
					ExpirationTime: maxTime(entry.ExpirationTime, evicted.ExpirationTime),
				}
			}
		}
	}

	m.entries = append(m.entries, entry)
	m.prune(now)

	m.persist(ctx, done)
	for _, fn := range m.onAdded {
		fn()
	}
	return nil
}

// raiseWildcardFloor folds evicted's protection into an existing
// wildcard entry, extending its revocation and expiration times to cover
// evicted, and reports whether such an entry was found. It never creates
// a new entry — a caller with no existing floor to raise must make its
// own room for one (see Block above) to keep the capacity invariant
// intact.
func (m *revocationManager) raiseWildcardFloor(evicted models.RevocationEntry) bool {
	for i := range m.entries {
		if m.entries[i].IsWildcard() {
			m.entries[i].RevocationTime = maxTime(m.entries[i].RevocationTime, evicted.RevocationTime)
			m.entries[i].ExpirationTime = maxTime(m.entries[i].ExpirationTime, evicted.ExpirationTime)
			return true
		}
	}
	return false
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func (m *revocationManager) IsBlocked(userID, appID []byte, issuedAt time.Time) bool {
	for _, e := range m.entries {
		if e.Matches(userID, appID, issuedAt) {
			return true
		}
	}
	return false
}

func (m *revocationManager) prune(now time.Time) {
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !e.Expired(now) {
			kept = append(kept, e)
		}
	}
	m.entries = kept
}

func (m *revocationManager) persist(ctx context.Context, done func(error)) {
	dtos := make([]revocationEntryDTO, 0, len(m.entries))
	for _, e := range m.entries {
		dtos = append(dtos, encodeEntry(e))
	}
	raw, err := json.Marshal(dtos)
	if err != nil {
		if done != nil {
			done(errors.Wrap(err, errors.InvalidFormat, "encoding blacklist"))
		}
		return
	}
	m.store.Save(ctx, revocationStoreKey, raw, func(err error) {
		if err != nil {
			m.log.Error("persisting blacklist failed", err)
		}
		if done != nil {
			done(err)
		}
	})
}

func soonestExpiringIndex(entries []models.RevocationEntry) int {
	best := 0
	for i := 1; i < len(entries); i++ {
		if entries[i].ExpirationTime.Before(entries[best].ExpirationTime) {
			best = i
		}
	}
	return best
}

func decodeEntry(d revocationEntryDTO) (models.RevocationEntry, error) {
	user, err := base64.StdEncoding.DecodeString(d.User)
	if err != nil {
		return models.RevocationEntry{}, errors.Wrap(err, errors.InvalidFormat, "decoding blacklist user id")
	}
	app, err := base64.StdEncoding.DecodeString(d.App)
	if err != nil {
		return models.RevocationEntry{}, errors.Wrap(err, errors.InvalidFormat, "decoding blacklist app id")
	}
	return models.RevocationEntry{
		UserID:         user,
		AppID:          app,
		RevocationTime: time.Unix(d.Revocation+y2kEpochOffset, 0).UTC(),
		ExpirationTime: time.Unix(d.Expiration+y2kEpochOffset, 0).UTC(),
	}, nil
}

func encodeEntry(e models.RevocationEntry) revocationEntryDTO {
	return revocationEntryDTO{
		User:       base64.StdEncoding.EncodeToString(e.UserID),
		App:        base64.StdEncoding.EncodeToString(e.AppID),
		Expiration: e.ExpirationTime.Unix() - y2kEpochOffset,
		Revocation: e.RevocationTime.Unix() - y2kEpochOffset,
	}
}
