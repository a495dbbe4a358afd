package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/internal/infrastructure/clock"
	"github.com/edgeweave/devicecore/internal/infrastructure/taskrunner"
	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

func newTestComponentManager(t *testing.T) (ComponentManager, *clock.Fake) {
	t.Helper()
	runner := taskrunner.New()
	t.Cleanup(runner.Stop)
	queue := NewCommandQueue(runner, logger.Noop())
	fakeClock := clock.NewFake(time.Unix(1700000000, 0))
	mgr := NewComponentManager(queue, fakeClock, logger.Noop())
	return mgr, fakeClock
}

var onOffTrait = models.Trait{
	Commands: map[string]models.CommandDef{
		"onOff.setOn": {MinimalRole: models.ScopeUser},
	},
	State: map[string]interface{}{"on": "bool"},
}

func TestComponentManager_AddComponentRequiresDeclaredTrait(t *testing.T) {
	mgr, _ := newTestComponentManager(t)
	err := mgr.AddComponent("", "outlet", []string{"onOff"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.InvalidPropValue))
}

func TestComponentManager_AddComponentAndFind(t *testing.T) {
	mgr, _ := newTestComponentManager(t)
	require.NoError(t, mgr.LoadTraits(map[string]models.Trait{"onOff": onOffTrait}))
	require.NoError(t, mgr.AddComponent("", "outlet", []string{"onOff"}))

	comp, err := mgr.FindComponent("outlet")
	require.NoError(t, err)
	assert.True(t, comp.HasTrait("onOff"))
}

func TestComponentManager_LoadTraitsRejectsConflictingRedefinition(t *testing.T) {
	mgr, _ := newTestComponentManager(t)
	require.NoError(t, mgr.LoadTraits(map[string]models.Trait{"onOff": onOffTrait}))

	conflicting := onOffTrait
	conflicting.Commands = map[string]models.CommandDef{
		"onOff.setOn": {MinimalRole: models.ScopeOwner},
	}
	err := mgr.LoadTraits(map[string]models.Trait{"onOff": conflicting})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.TypeMismatch))
}

func TestComponentManager_AddCommandEnforcesMinimalRole(t *testing.T) {
	mgr, _ := newTestComponentManager(t)
	require.NoError(t, mgr.LoadTraits(map[string]models.Trait{"onOff": onOffTrait}))
	require.NoError(t, mgr.AddComponent("", "outlet", []string{"onOff"}))

	_, err := mgr.AddCommand("outlet", "onOff.setOn", nil, models.ScopeViewer, models.OriginLocal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.AccessDenied))

	id, err := mgr.AddCommand("outlet", "onOff.setOn", nil, models.ScopeOwner, models.OriginLocal)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestComponentManager_AddCommandRejectsUndeclaredTraitOnComponent(t *testing.T) {
	mgr, _ := newTestComponentManager(t)
	require.NoError(t, mgr.LoadTraits(map[string]models.Trait{
		"onOff":  onOffTrait,
		"brightness": {Commands: map[string]models.CommandDef{"brightness.set": {MinimalRole: models.ScopeUser}}},
	}))
	require.NoError(t, mgr.AddComponent("", "outlet", []string{"onOff"}))

	_, err := mgr.AddCommand("outlet", "brightness.set", nil, models.ScopeOwner, models.OriginLocal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.TraitNotSupported))
}

func TestComponentManager_SetStatePropertiesReplacesArraysNotConcatenates(t *testing.T) {
	mgr, _ := newTestComponentManager(t)
	require.NoError(t, mgr.LoadTraits(map[string]models.Trait{"onOff": onOffTrait}))
	require.NoError(t, mgr.AddComponent("", "outlet", []string{"onOff"}))

	require.NoError(t, mgr.SetStateProperties("outlet", map[string]interface{}{
		"onOff": map[string]interface{}{"history": []interface{}{1, 2, 3}},
	}))
	require.NoError(t, mgr.SetStateProperties("outlet", map[string]interface{}{
		"onOff": map[string]interface{}{"history": []interface{}{9}},
	}))

	comp, err := mgr.FindComponent("outlet")
	require.NoError(t, err)
	history := comp.State["onOff"].(map[string]interface{})["history"]
	assert.Equal(t, []interface{}{9}, history)
}

func TestComponentManager_SetStatePropertyDottedSugar(t *testing.T) {
	mgr, _ := newTestComponentManager(t)
	require.NoError(t, mgr.LoadTraits(map[string]models.Trait{"onOff": onOffTrait}))
	require.NoError(t, mgr.AddComponent("", "outlet", []string{"onOff"}))

	require.NoError(t, mgr.SetStateProperty("outlet", "onOff.on", true))

	comp, err := mgr.FindComponent("outlet")
	require.NoError(t, err)
	assert.Equal(t, true, comp.State["onOff"].(map[string]interface{})["on"])
}

func TestComponentManager_GetAndClearRecordedStateChangesDrainsAndSorts(t *testing.T) {
	mgr, fakeClock := newTestComponentManager(t)
	require.NoError(t, mgr.LoadTraits(map[string]models.Trait{"onOff": onOffTrait}))
	require.NoError(t, mgr.AddComponent("", "outlet", []string{"onOff"}))

	fakeClock.Set(time.Unix(100, 0))
	require.NoError(t, mgr.SetStateProperty("outlet", "onOff.on", true))
	fakeClock.Set(time.Unix(50, 0))
	require.NoError(t, mgr.SetStateProperty("outlet", "onOff.on", false))

	snapshot := mgr.GetAndClearRecordedStateChanges()
	require.Len(t, snapshot.Changes, 2)
	assert.True(t, snapshot.Changes[0].Timestamp.Before(snapshot.Changes[1].Timestamp) ||
		snapshot.Changes[0].Timestamp.Equal(snapshot.Changes[1].Timestamp))

	again := mgr.GetAndClearRecordedStateChanges()
	assert.Empty(t, again.Changes)
}

func TestComponentManager_OnStateUpdateAckedFiresImmediatelyWhenEmpty(t *testing.T) {
	mgr, _ := newTestComponentManager(t)

	var got uint64
	var called bool
	mgr.OnStateUpdateAcked(func(updateID uint64) { got = updateID; called = true })

	assert.True(t, called)
	assert.Equal(t, uint64(0), got)
}

func TestComponentManager_AddComponentArrayItemAppends(t *testing.T) {
	mgr, _ := newTestComponentManager(t)
	require.NoError(t, mgr.LoadTraits(map[string]models.Trait{"onOff": onOffTrait}))

	require.NoError(t, mgr.AddComponentArrayItem("", "outlets", []string{"onOff"}))
	require.NoError(t, mgr.AddComponentArrayItem("", "outlets", []string{"onOff"}))

	comp, err := mgr.FindComponent("outlets[1]")
	require.NoError(t, err)
	assert.True(t, comp.HasTrait("onOff"))

	_, err = mgr.FindComponent("outlets[5]")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.PropertyMissing))
}

func TestComponentManager_SnapshotRendersTree(t *testing.T) {
	mgr, _ := newTestComponentManager(t)
	require.NoError(t, mgr.LoadTraits(map[string]models.Trait{"onOff": onOffTrait}))
	require.NoError(t, mgr.AddComponent("", "outlet", []string{"onOff"}))
	require.NoError(t, mgr.SetStateProperty("outlet", "onOff.on", true))

	snapshot := mgr.Snapshot()
	outlet, ok := snapshot["outlet"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []string{"onOff"}, outlet["traits"])
}
