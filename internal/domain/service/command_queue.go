package service

import (
	"time"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/internal/domain/repository"
	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// handlerKey is a registered (component-path, command-name) pair. An
// empty Component matches any component, the way the teacher's router
// falls through a chain of increasingly general routes.
type handlerKey struct {
	component string
	name      string
}

type commandQueue struct {
	commands map[string]*models.CommandInstance
	handlers map[handlerKey]CommandHandler
	fallback CommandHandler

	runner          repository.TaskRunner
	pendingRemovals map[string]repository.CancelToken

	onAdded   []func(*models.CommandInstance)
	onRemoved []func(*models.CommandInstance)

	log logger.Logger
}

// NewCommandQueue constructs C5. Delayed removal is posted through the
// injected TaskRunner, the same cooperative single-goroutine mechanism
// C4's session expiry and C7's refresh scheduling already use, so a
// removal never races a concurrent Add/Find/AddHandler call.
func NewCommandQueue(runner repository.TaskRunner, log logger.Logger) CommandQueue {
	return &commandQueue{
		commands:        map[string]*models.CommandInstance{},
		handlers:        map[handlerKey]CommandHandler{},
		runner:          runner,
		pendingRemovals: map[string]repository.CancelToken{},
		log:             log,
	}
}

// Add implements spec.md §4.5's add(command): unique id, id→command
// insertion, on_added notification, then most-specific-match dispatch.
func (q *commandQueue) Add(cmd *models.CommandInstance) error {
	if cmd.ID == "" {
		return errors.New(errors.InvalidParams, "command id is required")
	}
	if _, exists := q.commands[cmd.ID]; exists {
		return errors.Newf(errors.InvalidParams, "command id %q already queued", cmd.ID)
	}
	q.commands[cmd.ID] = cmd

	for _, fn := range q.onAdded {
		fn(cmd)
	}

	if handler := q.resolveHandler(cmd.Component, cmd.Name); handler != nil {
		handler(cmd)
	}
	return nil
}

func (q *commandQueue) Find(id string) (*models.CommandInstance, bool) {
	cmd, ok := q.commands[id]
	return cmd, ok
}

// DelayedRemove implements spec.md §4.5's delayed_remove: schedule
// removal after delay, firing on_removed when it happens. A second call
// for the same id replaces the earlier pending removal rather than
// firing twice.
func (q *commandQueue) DelayedRemove(id string, delay time.Duration) {
	if cancel, pending := q.pendingRemovals[id]; pending {
		cancel.Cancel()
	}
	q.pendingRemovals[id] = q.runner.PostDelayedTask(delay, func() {
		delete(q.pendingRemovals, id)
		q.remove(id)
	})
}

func (q *commandQueue) remove(id string) {
	cmd, ok := q.commands[id]
	if !ok {
		return
	}
	delete(q.commands, id)
	for _, fn := range q.onRemoved {
		fn(cmd)
	}
}

// AddHandler registers handler for (componentPath, commandName). If a
// queued command already matches and has no more specific handler, it is
// dispatched immediately (spec.md §4.5: "dispatches it to the new
// handler once").
func (q *commandQueue) AddHandler(componentPath, commandName string, handler CommandHandler) {
	key := handlerKey{component: componentPath, name: commandName}
	q.handlers[key] = handler

	for _, cmd := range q.commands {
		if cmd.State.IsTerminal() {
			continue
		}
		if _, matched, ok := q.mostSpecificMatch(cmd.Component, cmd.Name); ok && matched == key {
			handler(cmd)
		}
	}
}

func (q *commandQueue) AddDefaultHandler(handler CommandHandler) {
	q.fallback = handler
	for _, cmd := range q.commands {
		if cmd.State.IsTerminal() {
			continue
		}
		if _, _, ok := q.mostSpecificMatch(cmd.Component, cmd.Name); !ok {
			handler(cmd)
		}
	}
}

func (q *commandQueue) OnAdded(fn func(*models.CommandInstance))   { q.onAdded = append(q.onAdded, fn) }
func (q *commandQueue) OnRemoved(fn func(*models.CommandInstance)) { q.onRemoved = append(q.onRemoved, fn) }

func (q *commandQueue) Count() int { return len(q.commands) }

// resolveHandler picks the most specific match on (component-path,
// command-name), falling back to the default handler.
func (q *commandQueue) resolveHandler(component, name string) CommandHandler {
	if handler, _, ok := q.mostSpecificMatch(component, name); ok {
		return handler
	}
	return q.fallback
}

// mostSpecificMatch ranks candidates by specificity: exact
// component+name beats exact name with wildcard component, beats exact
// component with wildcard name, beats wildcard+wildcard (which is never
// registered — that's the default handler's job).
func (q *commandQueue) mostSpecificMatch(component, name string) (CommandHandler, handlerKey, bool) {
	candidates := []handlerKey{
		{component: component, name: name},
		{component: "", name: name},
		{component: component, name: ""},
	}
	for _, key := range candidates {
		if handler, ok := q.handlers[key]; ok {
			return handler, key, true
		}
	}
	return nil, handlerKey{}, false
}
