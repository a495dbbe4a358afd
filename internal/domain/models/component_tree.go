package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgeweave/devicecore/pkg/errors"
)

// Component is a node in the device's capability tree: it declares a set
// of trait names, carries their state under a trait-namespaced map, and
// may hold named children (each either a single Component or, in array
// form, a slice of Components addressed by "[i]").
//
// Design Notes §9 calls for centralizing the tagged-value navigation logic
// in one place; here that place is Navigate below, and the "tagged value"
// itself is simply Go's natural JSON-shaped map[string]interface{} plus
// the two concrete child shapes (*Component and []*Component) rather than
// a hand-rolled union type.
type Component struct {
	Traits     []string
	State      map[string]interface{} // trait name -> {property -> value}
	Components map[string]interface{} // child name -> *Component | []*Component
}

// NewComponent returns an empty component declaring the given traits.
func NewComponent(traits []string) *Component {
	return &Component{
		Traits:     append([]string(nil), traits...),
		State:      map[string]interface{}{},
		Components: map[string]interface{}{},
	}
}

// HasTrait reports whether the component declares the named trait.
func (c *Component) HasTrait(trait string) bool {
	for _, t := range c.Traits {
		if t == trait {
			return true
		}
	}
	return false
}

// PathSegment is one dotted-path step: a child name, and an array index
// (-1 when the segment does not index into an array, e.g. "switch" vs
// "outlets[2]").
type PathSegment struct {
	Name  string
	Index int
}

// ParsePath splits a dotted component path such as "outlets[2].switch"
// into its segments.
func ParsePath(path string) ([]PathSegment, error) {
	if path == "" {
		return nil, errors.New(errors.PropertyMissing, "empty component path")
	}
	parts := strings.Split(path, ".")
	segments := make([]PathSegment, 0, len(parts))
	for _, part := range parts {
		name := part
		index := -1
		if open := strings.IndexByte(part, '['); open >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, errors.Newf(errors.InvalidFormat, "malformed path segment %q", part)
			}
			name = part[:open]
			idxStr := part[open+1 : len(part)-1]
			n, err := strconv.Atoi(idxStr)
			if err != nil || n < 0 {
				return nil, errors.Newf(errors.InvalidFormat, "malformed array index in %q", part)
			}
			index = n
		}
		if name == "" {
			return nil, errors.Newf(errors.InvalidFormat, "empty path segment in %q", path)
		}
		segments = append(segments, PathSegment{Name: name, Index: index})
	}
	return segments, nil
}

// Navigate descends from root (a top-level name -> *Component|[]*Component
// map) through the given dotted path and returns the addressed component.
func Navigate(root map[string]interface{}, path string) (*Component, error) {
	segments, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	current := root
	var comp *Component
	for i, seg := range segments {
		child, ok := current[seg.Name]
		if !ok {
			return nil, errors.Newf(errors.PropertyMissing, "no component named %q in path %q", seg.Name, path)
		}
		switch v := child.(type) {
		case *Component:
			if seg.Index >= 0 {
				return nil, errors.Newf(errors.TypeMismatch, "%q is not an array component", seg.Name)
			}
			comp = v
		case []*Component:
			if seg.Index < 0 {
				return nil, errors.Newf(errors.TypeMismatch, "%q requires an array index", seg.Name)
			}
			if seg.Index >= len(v) {
				return nil, errors.Newf(errors.PropertyMissing, "index %d out of range for %q", seg.Index, seg.Name)
			}
			comp = v[seg.Index]
		default:
			return nil, errors.Newf(errors.TypeMismatch, "unexpected node type at %q", seg.Name)
		}
		if i < len(segments)-1 {
			current = comp.Components
		}
	}
	return comp, nil
}

// AddChild inserts a dictionary-form child under parent, failing if the
// name is already taken.
func AddChild(parent *Component, name string, child *Component) error {
	if _, exists := parent.Components[name]; exists {
		return errors.Newf(errors.InvalidState, "component %q already exists", name)
	}
	parent.Components[name] = child
	return nil
}

// AddArrayChild appends child to an array-valued named slot, creating the
// slot if it does not yet exist. It fails if the name is already taken by
// a non-array (dictionary-form) child.
func AddArrayChild(parent *Component, name string, child *Component) error {
	existing, ok := parent.Components[name]
	if !ok {
		parent.Components[name] = []*Component{child}
		return nil
	}
	arr, ok := existing.([]*Component)
	if !ok {
		return errors.Newf(errors.TypeMismatch, "component %q is not an array", name)
	}
	parent.Components[name] = append(arr, child)
	return nil
}

// MergeState deep-merges diff into dst: nested maps are union-merged with
// new leaf values overwriting old ones; any other value type (including
// arrays) replaces the previous value outright, per Design Notes §9.
func MergeState(dst map[string]interface{}, diff map[string]interface{}) {
	for k, v := range diff {
		if newMap, ok := v.(map[string]interface{}); ok {
			if existing, ok := dst[k].(map[string]interface{}); ok {
				MergeState(existing, newMap)
				continue
			}
			merged := map[string]interface{}{}
			MergeState(merged, newMap)
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}

// FormatPath renders a slice of PathSegments back into dotted-path form
// (mostly used by tests and error messages).
func FormatPath(segments []PathSegment) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		if seg.Index >= 0 {
			parts[i] = fmt.Sprintf("%s[%d]", seg.Name, seg.Index)
		} else {
			parts[i] = seg.Name
		}
	}
	return strings.Join(parts, ".")
}
