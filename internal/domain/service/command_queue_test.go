package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/internal/infrastructure/taskrunner"
	"github.com/edgeweave/devicecore/pkg/logger"
)

func newTestCommandQueue(t *testing.T) CommandQueue {
	t.Helper()
	runner := taskrunner.New()
	t.Cleanup(runner.Stop)
	return NewCommandQueue(runner, logger.Noop())
}

func TestCommandQueue_AddDispatchesToMostSpecificHandler(t *testing.T) {
	q := newTestCommandQueue(t)

	var generic, specific []string
	q.AddHandler("", "base.reboot", func(cmd *models.CommandInstance) { generic = append(generic, cmd.ID) })
	q.AddHandler("robot", "base.reboot", func(cmd *models.CommandInstance) { specific = append(specific, cmd.ID) })

	require.NoError(t, q.Add(&models.CommandInstance{ID: "cmd-1", Component: "robot", Name: "base.reboot", State: models.CommandQueued}))

	assert.Equal(t, []string{"cmd-1"}, specific)
	assert.Empty(t, generic)
}

func TestCommandQueue_AddFallsBackToDefaultHandler(t *testing.T) {
	q := newTestCommandQueue(t)

	var handled []string
	q.AddDefaultHandler(func(cmd *models.CommandInstance) { handled = append(handled, cmd.ID) })

	require.NoError(t, q.Add(&models.CommandInstance{ID: "cmd-1", Component: "robot", Name: "base.reboot", State: models.CommandQueued}))

	assert.Equal(t, []string{"cmd-1"}, handled)
}

func TestCommandQueue_AddHandlerDispatchesAlreadyQueuedCommandOnce(t *testing.T) {
	q := newTestCommandQueue(t)

	require.NoError(t, q.Add(&models.CommandInstance{ID: "cmd-1", Component: "robot", Name: "base.reboot", State: models.CommandQueued}))

	var calls int
	q.AddHandler("robot", "base.reboot", func(cmd *models.CommandInstance) { calls++ })

	assert.Equal(t, 1, calls)

	// A later AddHandler for an unrelated key must not re-dispatch the
	// already-handled command.
	var secondCalls int
	q.AddHandler("other", "x", func(cmd *models.CommandInstance) { secondCalls++ })
	assert.Equal(t, 0, secondCalls)
}

func TestCommandQueue_RejectsDuplicateID(t *testing.T) {
	q := newTestCommandQueue(t)
	require.NoError(t, q.Add(&models.CommandInstance{ID: "cmd-1", Component: "robot", Name: "x", State: models.CommandQueued}))
	err := q.Add(&models.CommandInstance{ID: "cmd-1", Component: "robot", Name: "x", State: models.CommandQueued})
	require.Error(t, err)
}

func TestCommandQueue_DelayedRemoveFiresOnRemoved(t *testing.T) {
	q := newTestCommandQueue(t)
	require.NoError(t, q.Add(&models.CommandInstance{ID: "cmd-1", Component: "robot", Name: "x", State: models.CommandDone}))

	removed := make(chan string, 1)
	q.OnRemoved(func(cmd *models.CommandInstance) { removed <- cmd.ID })

	q.DelayedRemove("cmd-1", 10*time.Millisecond)

	select {
	case id := <-removed:
		assert.Equal(t, "cmd-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("command was not removed in time")
	}
	_, ok := q.Find("cmd-1")
	assert.False(t, ok)
}

func TestCommandQueue_Count(t *testing.T) {
	q := newTestCommandQueue(t)
	require.NoError(t, q.Add(&models.CommandInstance{ID: "a", Name: "x", State: models.CommandQueued}))
	require.NoError(t, q.Add(&models.CommandInstance{ID: "b", Name: "x", State: models.CommandQueued}))
	assert.Equal(t, 2, q.Count())
}
