package models

import "reflect"

// CommandDef declares one trait command: its parameter schema, the
// minimum role required to invoke it, and optional progress/results
// schemas.
type CommandDef struct {
	Parameters  map[string]interface{}
	MinimalRole Scope
	Progress    map[string]interface{}
	Results     map[string]interface{}
}

// Trait is a reusable bundle of commands and state properties a
// component may declare (spec.md §3, GLOSSARY).
type Trait struct {
	Name     string
	Commands map[string]CommandDef
	State    map[string]interface{} // property name -> schema
}

// Equal reports whether two trait bodies are equivalent, used to decide
// whether a redefinition is a no-op re-declaration or a conflicting
// TypeMismatch (traits are append-only once defined).
func (t Trait) Equal(other Trait) bool {
	if len(t.Commands) != len(other.Commands) {
		return false
	}
	for name, def := range t.Commands {
		od, ok := other.Commands[name]
		if !ok || def.MinimalRole != od.MinimalRole {
			return false
		}
		if !reflect.DeepEqual(def.Parameters, od.Parameters) {
			return false
		}
		if !reflect.DeepEqual(def.Progress, od.Progress) {
			return false
		}
		if !reflect.DeepEqual(def.Results, od.Results) {
			return false
		}
	}
	return reflect.DeepEqual(t.State, other.State)
}
