package params

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateLabel is returned when two parameters share a display label.
	ErrDuplicateLabel = errors.New("duplicate parameter label")
	// ErrMissingParameter is returned when an expected parameter has no control.
	ErrMissingParameter = errors.New("missing parameter")
	// ErrInvalidSchema is returned for schemas that violate their own constraints.
	ErrInvalidSchema = errors.New("invalid parameter schema")
	// ErrInvalidValue is returned when a value cannot be applied to a control.
	ErrInvalidValue = errors.New("invalid parameter value")
)

// Kind identifies the shape of a parameter's legal value space.
type Kind int

const (
	// ChoiceList is a pick-one list of strings.
	ChoiceList Kind = iota + 1
	// BoundedInteger is an integer within an inclusive range.
	BoundedInteger
)

func (k Kind) String() string {
	switch k {
	case ChoiceList:
		return "choice_list"
	case BoundedInteger:
		return "bounded_integer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Schema describes one configurable generation parameter.
// Options is set for ChoiceList; Min, Max and Initial for BoundedInteger.
type Schema struct {
	Kind    Kind
	Label   string
	Options []string
	Min     int
	Max     int
	Initial int
}

// Choice returns a ChoiceList schema. The options slice is copied.
func Choice(label string, options ...string) Schema {
	return Schema{
		Kind:    ChoiceList,
		Label:   label,
		Options: append([]string(nil), options...),
	}
}

// NewBoundedInteger returns a BoundedInteger schema, rejecting min > initial or initial > max.
func NewBoundedInteger(label string, min, max, initial int) (Schema, error) {
	if min > initial || initial > max {
		return Schema{}, fmt.Errorf("%w: %q requires min <= initial <= max, got %d/%d/%d", ErrInvalidSchema, label, min, initial, max)
	}
	return Schema{
		Kind:    BoundedInteger,
		Label:   label,
		Min:     min,
		Max:     max,
		Initial: initial,
	}, nil
}

// MustBoundedInteger is like NewBoundedInteger but panics on an invalid range.
func MustBoundedInteger(label string, min, max, initial int) Schema {
	s, err := NewBoundedInteger(label, min, max, initial)
	if err != nil {
		panic(err)
	}
	return s
}

// Contains reports whether v lies inside the inclusive range of a BoundedInteger schema.
func (s Schema) Contains(v int) bool {
	return s.Kind == BoundedInteger && v >= s.Min && v <= s.Max
}

// HasOption reports whether v is one of the options of a ChoiceList schema.
func (s Schema) HasOption(v string) bool {
	for _, o := range s.Options {
		if o == v {
			return true
		}
	}
	return false
}

// Entry pairs a parameter name with its schema.
type Entry struct {
	Name   string
	Schema Schema
}

// Set is an insertion-ordered mapping of parameter name to schema.
// Names and display labels are both unique. The zero value is empty and usable.
type Set struct {
	entries []Entry
	byName  map[string]int
}

// NewSet builds a Set from entries in display order.
func NewSet(entries ...Entry) (Set, error) {
	var s Set
	for _, e := range entries {
		if err := s.Add(e.Name, e.Schema); err != nil {
			return Set{}, err
		}
	}
	return s, nil
}

// Add appends a parameter. Reusing a name or a label is a configuration error.
func (s *Set) Add(name string, schema Schema) error {
	if s.byName == nil {
		s.byName = make(map[string]int)
	}
	if _, ok := s.byName[name]; ok {
		return fmt.Errorf("%w: parameter name %q registered twice", ErrDuplicateLabel, name)
	}
	for _, e := range s.entries {
		if e.Schema.Label == schema.Label {
			return fmt.Errorf("%w: %q used by %q and %q", ErrDuplicateLabel, schema.Label, e.Name, name)
		}
	}
	switch schema.Kind {
	case ChoiceList:
	case BoundedInteger:
		if schema.Min > schema.Initial || schema.Initial > schema.Max {
			return fmt.Errorf("%w: %q range %d..%d does not contain %d", ErrInvalidSchema, schema.Label, schema.Min, schema.Max, schema.Initial)
		}
	default:
		return fmt.Errorf("%w: %q has unknown kind %v", ErrInvalidSchema, schema.Label, schema.Kind)
	}
	s.byName[name] = len(s.entries)
	s.entries = append(s.entries, Entry{Name: name, Schema: schema})
	return nil
}

// Get returns the schema registered under name.
func (s Set) Get(name string) (Schema, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Schema{}, false
	}
	return s.entries[i].Schema, true
}

// Entries returns a copy of the entries in display order.
func (s Set) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Len returns the number of parameters.
func (s Set) Len() int { return len(s.entries) }
