package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/internal/infrastructure/clock"
	"github.com/edgeweave/devicecore/internal/infrastructure/memstore"
	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// Scenario 1 from spec.md §8: revocation load/prune.
func TestRevocationStore_LoadPrunesExpiredEntries(t *testing.T) {
	store := memstore.New()
	raw := `[{"user":"BQID","app":"BwQF","expiration":463315200,"revocation":463314200},` +
		`{"user":"AQID","app":"AwQF","expiration":473315199,"revocation":473313199}]`
	store.Save(context.Background(), "black_list", []byte(raw), nil)

	fakeClock := clock.NewFake(time.Unix(1412121212, 0))
	rev := NewRevocationStore(store, fakeClock, 10, logger.Noop())

	require.NoError(t, rev.Load(context.Background()))
	assert.Equal(t, 1, rev.Size())

	persisted, err := store.Load(context.Background(), "black_list")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"user":"AQID","app":"AwQF","expiration":473315199,"revocation":473313199}]`, string(persisted))
}

func TestRevocationStore_BlockFailsOnAlreadyExpired(t *testing.T) {
	store := memstore.New()
	fakeClock := clock.NewFake(time.Unix(1000, 0))
	rev := NewRevocationStore(store, fakeClock, 2, logger.Noop())

	err := rev.Block(context.Background(), models.RevocationEntry{
		ExpirationTime: time.Unix(500, 0),
		RevocationTime: time.Unix(400, 0),
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.AlreadyExpired))
}

// Eviction of a bounded entry at capacity must raise a wildcard floor so
// the evicted entry's revocation still holds (Design Notes §9).
func TestRevocationStore_EvictionRaisesWildcardFloor(t *testing.T) {
	store := memstore.New()
	fakeClock := clock.NewFake(time.Unix(1000, 0))
	rev := NewRevocationStore(store, fakeClock, 1, logger.Noop())

	first := models.RevocationEntry{
		UserID:         []byte{1},
		RevocationTime: time.Unix(1500, 0),
		ExpirationTime: time.Unix(2000, 0),
	}
	require.NoError(t, rev.Block(context.Background(), first, nil))
	assert.True(t, rev.IsBlocked([]byte{1}, nil, time.Unix(1400, 0)))

	second := models.RevocationEntry{
		UserID:         []byte{2},
		RevocationTime: time.Unix(1600, 0),
		ExpirationTime: time.Unix(3000, 0),
	}
	require.NoError(t, rev.Block(context.Background(), second, nil))

	assert.True(t, rev.IsBlocked([]byte{1}, nil, time.Unix(1400, 0)),
		"evicted entry's revocation must still hold via the wildcard floor")
	assert.True(t, rev.IsBlocked([]byte{2}, nil, time.Unix(1400, 0)))
}

// Mirrors AccessRevocationManagerImplTest.BlockListOverflow: driving a
// bounded store well past capacity must never leave it above capacity,
// even across repeated wildcard-floor creation and eviction.
func TestRevocationStore_SizeNeverExceedsCapacity(t *testing.T) {
	store := memstore.New()
	fakeClock := clock.NewFake(time.Unix(1000, 0))
	capacity := 3
	rev := NewRevocationStore(store, fakeClock, capacity, logger.Noop())

	for i := 0; i < capacity+7; i++ {
		entry := models.RevocationEntry{
			UserID:         []byte{byte(i)},
			RevocationTime: time.Unix(int64(1500+i), 0),
			ExpirationTime: time.Unix(int64(2000+i), 0),
		}
		require.NoError(t, rev.Block(context.Background(), entry, nil))
		assert.LessOrEqual(t, rev.Size(), capacity)
	}
	assert.Equal(t, capacity, rev.Size())
}

// At capacity 1 there is no spare slot for both a standalone wildcard
// floor and the entry being inserted, so the floor's protection folds
// directly into the new entry instead — still honoring both revocations
// (Design Notes §9) without exceeding capacity.
func TestRevocationStore_CapacityOneFoldsFloorIntoNewEntry(t *testing.T) {
	store := memstore.New()
	fakeClock := clock.NewFake(time.Unix(1000, 0))
	rev := NewRevocationStore(store, fakeClock, 1, logger.Noop())

	first := models.RevocationEntry{
		UserID:         []byte{1},
		RevocationTime: time.Unix(1500, 0),
		ExpirationTime: time.Unix(2000, 0),
	}
	require.NoError(t, rev.Block(context.Background(), first, nil))

	second := models.RevocationEntry{
		UserID:         []byte{2},
		RevocationTime: time.Unix(1600, 0),
		ExpirationTime: time.Unix(3000, 0),
	}
	require.NoError(t, rev.Block(context.Background(), second, nil))

	assert.Equal(t, 1, rev.Size())
	assert.True(t, rev.IsBlocked([]byte{1}, nil, time.Unix(1400, 0)),
		"evicted entry's revocation must still hold")
	assert.True(t, rev.IsBlocked([]byte{2}, nil, time.Unix(1400, 0)))
}

func TestRevocationStore_OnEntryAddedFiresAfterPersist(t *testing.T) {
	store := memstore.New()
	fakeClock := clock.NewFake(time.Unix(1000, 0))
	rev := NewRevocationStore(store, fakeClock, 5, logger.Noop())

	fired := false
	rev.OnEntryAdded(func() { fired = true })

	require.NoError(t, rev.Block(context.Background(), models.RevocationEntry{
		UserID:         []byte{9},
		RevocationTime: time.Unix(1500, 0),
		ExpirationTime: time.Unix(2000, 0),
	}, nil))

	assert.True(t, fired)
	persisted, err := store.Load(context.Background(), "black_list")
	require.NoError(t, err)
	assert.NotEmpty(t, persisted)
}
