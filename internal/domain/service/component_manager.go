package service

import (
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/internal/domain/repository"
	"github.com/edgeweave/devicecore/pkg/constants"
	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// componentManager implements C6: the trait registry, the typed
// component tree and the per-component state-change journal.
type componentManager struct {
	clock repository.Clock
	log   logger.Logger
	queue CommandQueue

	traits map[string]models.Trait

	roots     map[string]interface{} // name -> *models.Component | []*models.Component
	rootOrder []string

	journals map[string]*models.ComponentJournal
	updateID uint64

	ackListeners []func(uint64)
	nextCommand  uint64
}

// NewComponentManager constructs C6 against the command queue it
// dispatches add_command results into.
func NewComponentManager(queue CommandQueue, clock repository.Clock, log logger.Logger) ComponentManager {
	return &componentManager{
		clock:    clock,
		log:      log,
		queue:    queue,
		traits:   map[string]models.Trait{},
		roots:    map[string]interface{}{},
		journals: map[string]*models.ComponentJournal{},
	}
}

// LoadTraits implements spec.md §4.6's load_traits: append-only
// definitions, redefinition with a non-equal body rejected.
func (m *componentManager) LoadTraits(defs map[string]models.Trait) error {
	for name, def := range defs {
		def.Name = name
		if existing, ok := m.traits[name]; ok {
			if !existing.Equal(def) {
				return errors.Newf(errors.TypeMismatch, "trait %q redefined with a conflicting body", name)
			}
			continue
		}
		m.traits[name] = def
		m.log.Debug("trait defined", logger.String("trait", name))
	}
	return nil
}

// AddComponent implements spec.md §4.6's add_component: dictionary-form
// insertion at parentPath (root-level when parentPath is empty).
func (m *componentManager) AddComponent(parentPath, name string, traits []string) error {
	if err := m.checkTraitsDeclared(traits); err != nil {
		return err
	}
	child := models.NewComponent(traits)

	if parentPath == "" {
		if _, exists := m.roots[name]; exists {
			return errors.Newf(errors.InvalidState, "component %q already exists", name)
		}
		m.roots[name] = child
		m.rootOrder = append(m.rootOrder, name)
		m.log.Debug("component added", logger.String("path", name))
		return nil
	}

	parent, err := models.Navigate(m.roots, parentPath)
	if err != nil {
		return err
	}
	if err := models.AddChild(parent, name, child); err != nil {
		return err
	}
	m.log.Debug("component added", logger.String("path", parentPath+"."+name))
	return nil
}

// AddComponentArrayItem implements spec.md §4.6's
// add_component_array_item: array-form insertion, creating the array if
// absent.
func (m *componentManager) AddComponentArrayItem(parentPath, name string, traits []string) error {
	if err := m.checkTraitsDeclared(traits); err != nil {
		return err
	}
	child := models.NewComponent(traits)

	if parentPath == "" {
		existing, ok := m.roots[name]
		if !ok {
			m.roots[name] = []*models.Component{child}
			m.rootOrder = append(m.rootOrder, name)
			return nil
		}
		arr, ok := existing.([]*models.Component)
		if !ok {
			return errors.Newf(errors.TypeMismatch, "component %q is not an array", name)
		}
		m.roots[name] = append(arr, child)
		return nil
	}

	parent, err := models.Navigate(m.roots, parentPath)
	if err != nil {
		return err
	}
	return models.AddArrayChild(parent, name, child)
}

func (m *componentManager) checkTraitsDeclared(traits []string) error {
	for _, t := range traits {
		if _, ok := m.traits[t]; !ok {
			return errors.Newf(errors.InvalidPropValue, "trait %q is not defined", t)
		}
	}
	return nil
}

// FindComponent implements spec.md §4.6's find_component.
func (m *componentManager) FindComponent(path string) (*models.Component, error) {
	return models.Navigate(m.roots, path)
}

// AddCommand implements spec.md §4.6's add_command: trait/role admission
// followed by enqueuing into C5.
func (m *componentManager) AddCommand(componentPath, name string, params map[string]interface{}, role models.Scope, origin models.CommandOrigin) (string, error) {
	traitName, _, ok := splitCommandName(name)
	if !ok {
		return "", errors.Newf(errors.InvalidCommandName, "malformed command name %q", name)
	}
	trait, ok := m.traits[traitName]
	if !ok {
		return "", errors.Newf(errors.InvalidCommandName, "trait %q is not defined", traitName)
	}
	def, ok := trait.Commands[name]
	if !ok {
		return "", errors.Newf(errors.InvalidCommandName, "command %q is not defined on trait %q", name, traitName)
	}
	if !role.AtLeast(def.MinimalRole) {
		return "", errors.Newf(errors.AccessDenied, "role %s is below minimal role %s for %q", role, def.MinimalRole, name)
	}

	if componentPath == "" {
		first, err := m.firstDeclaredComponentPath()
		if err != nil {
			return "", err
		}
		componentPath = first
	}
	comp, err := models.Navigate(m.roots, componentPath)
	if err != nil {
		return "", err
	}
	if !comp.HasTrait(traitName) {
		return "", errors.Newf(errors.TraitNotSupported, "component %q does not declare trait %q", componentPath, traitName)
	}

	id := strconv.FormatUint(atomic.AddUint64(&m.nextCommand, 1), 10)
	cmd := &models.CommandInstance{
		ID:         id,
		Name:       name,
		Component:  componentPath,
		Origin:     origin,
		State:      models.CommandQueued,
		Parameters: params,
		Role:       def.MinimalRole,
	}
	if err := m.queue.Add(cmd); err != nil {
		return "", err
	}
	return id, nil
}

func (m *componentManager) firstDeclaredComponentPath() (string, error) {
	if len(m.rootOrder) == 0 {
		return "", errors.New(errors.ComponentNotFound, "no components declared")
	}
	return m.rootOrder[0], nil
}

func splitCommandName(name string) (trait, command string, ok bool) {
	i := strings.IndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// SetStateProperties implements spec.md §4.6's set_state_properties: deep
// merge, update-id advance, journal append, all within a single recorded
// diff.
func (m *componentManager) SetStateProperties(componentPath string, diff map[string]interface{}) error {
	comp, err := models.Navigate(m.roots, componentPath)
	if err != nil {
		return err
	}
	models.MergeState(comp.State, diff)

	m.updateID++
	journal := m.journalFor(componentPath)
	journal.Append(models.JournalEntry{
		Timestamp: m.clock.Now(),
		Component: componentPath,
		Diff:      diff,
	})
	return nil
}

// SetStateProperty implements spec.md §4.6's set_state_property sugar:
// dottedName must be exactly "trait.property".
func (m *componentManager) SetStateProperty(componentPath, dottedName string, value interface{}) error {
	trait, prop, ok := splitCommandName(dottedName)
	if !ok || strings.Contains(prop, ".") {
		return errors.Newf(errors.InvalidParams, "malformed state property name %q", dottedName)
	}
	diff := map[string]interface{}{
		trait: map[string]interface{}{prop: value},
	}
	return m.SetStateProperties(componentPath, diff)
}

func (m *componentManager) journalFor(path string) *models.ComponentJournal {
	j, ok := m.journals[path]
	if !ok {
		j = models.NewComponentJournal(constants.JournalCapacity)
		m.journals[path] = j
	}
	return j
}

// GetAndClearRecordedStateChanges implements spec.md §4.6's
// get_and_clear_recorded_state_changes: drains every journal and returns
// them sorted by timestamp alongside the current update-id.
func (m *componentManager) GetAndClearRecordedStateChanges() StateSnapshot {
	var all []models.JournalEntry
	for _, journal := range m.journals {
		all = append(all, journal.Drain()...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return StateSnapshot{UpdateID: m.updateID, Changes: all}
}

// NotifyStateUpdatedOnServer implements spec.md §4.6's
// notify_state_updated_on_server.
func (m *componentManager) NotifyStateUpdatedOnServer(updateID uint64) {
	for _, fn := range m.ackListeners {
		fn(updateID)
	}
}

// OnStateUpdateAcked registers fn to be called on every
// NotifyStateUpdatedOnServer. If every journal is currently empty, fn is
// called immediately with the current update-id, matching spec.md's "a
// newly added subscriber is immediately called with the current id" when
// there is nothing left to flush.
func (m *componentManager) OnStateUpdateAcked(fn func(updateID uint64)) {
	m.ackListeners = append(m.ackListeners, fn)
	if m.allJournalsEmpty() {
		fn(m.updateID)
	}
}

func (m *componentManager) allJournalsEmpty() bool {
	for _, j := range m.journals {
		if !j.Empty() {
			return false
		}
	}
	return true
}

// Snapshot renders the component tree rooted at m.roots into a plain
// JSON-marshalable shape, used by the registration flow to build the
// device draft (spec.md §4.7 step 3: "current traits, current
// components (each with traits list and current state...)").
func (m *componentManager) Snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(m.roots))
	for name, child := range m.roots {
		out[name] = snapshotNode(child)
	}
	return out
}

func snapshotNode(node interface{}) interface{} {
	switch v := node.(type) {
	case *models.Component:
		return snapshotComponent(v)
	case []*models.Component:
		items := make([]interface{}, len(v))
		for i, c := range v {
			items[i] = snapshotComponent(c)
		}
		return items
	default:
		return nil
	}
}

func snapshotComponent(c *models.Component) map[string]interface{} {
	children := make(map[string]interface{}, len(c.Components))
	for name, child := range c.Components {
		children[name] = snapshotNode(child)
	}
	return map[string]interface{}{
		"traits":     append([]string(nil), c.Traits...),
		"state":      c.State,
		"components": children,
	}
}
