package params

import (
	"fmt"
	"strconv"
)

// Control is the live, user-editable state of one parameter.
type Control interface {
	Schema() Schema
	// Value returns a string for ChoiceList controls and an int for BoundedInteger controls.
	Value() any
	// Set updates the control. Integers are clamped to range; choices must be listed.
	Set(v any) error
}

// controlFactories maps each Kind to its control constructor.
var controlFactories = map[Kind]func(Schema) Control{
	ChoiceList:     newChoiceControl,
	BoundedInteger: newIntControl,
}

// Collection is a label-keyed dynamic form built from a backend's schema.
type Collection struct {
	order    []string
	controls map[string]Control
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{controls: make(map[string]Control)}
}

// NewCollectionFor materializes one control per parameter in set, in display order.
func NewCollectionFor(set Set) (*Collection, error) {
	c := NewCollection()
	for _, e := range set.Entries() {
		if _, err := c.AddParam(e.Schema); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", e.Name, err)
		}
	}
	return c, nil
}

// AddParam registers a control for schema. A label may only be registered once.
func (c *Collection) AddParam(schema Schema) (Control, error) {
	if _, ok := c.controls[schema.Label]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateLabel, schema.Label)
	}
	factory, ok := controlFactories[schema.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q has unknown kind %v", ErrInvalidSchema, schema.Label, schema.Kind)
	}
	ctrl := factory(schema)
	c.controls[schema.Label] = ctrl
	c.order = append(c.order, schema.Label)
	return ctrl, nil
}

// ValueForLabel returns the current value of the control registered under label.
// The second result is false if no such label was registered.
func (c *Collection) ValueForLabel(label string) (any, bool) {
	ctrl, ok := c.controls[label]
	if !ok {
		return nil, false
	}
	return ctrl.Value(), true
}

// Control returns the control registered under label.
func (c *Collection) Control(label string) (Control, bool) {
	ctrl, ok := c.controls[label]
	return ctrl, ok
}

// SetValue updates the control registered under label.
func (c *Collection) SetValue(label string, v any) error {
	ctrl, ok := c.controls[label]
	if !ok {
		return fmt.Errorf("%w: no control labelled %q", ErrMissingParameter, label)
	}
	return ctrl.Set(v)
}

// Labels returns the registered labels in registration order.
func (c *Collection) Labels() []string {
	return append([]string(nil), c.order...)
}

// Values resolves every parameter of set to its current value, keyed by parameter name.
// A parameter whose label has no control is a backend/schema mismatch.
func (c *Collection) Values(set Set) (map[string]any, error) {
	out := make(map[string]any, set.Len())
	for _, e := range set.Entries() {
		v, ok := c.ValueForLabel(e.Schema.Label)
		if !ok {
			return nil, fmt.Errorf("%w: %q (%s)", ErrMissingParameter, e.Schema.Label, e.Name)
		}
		out[e.Name] = v
	}
	return out, nil
}

type choiceControl struct {
	schema   Schema
	selected int
}

func newChoiceControl(s Schema) Control {
	return &choiceControl{schema: s}
}

func (c *choiceControl) Schema() Schema { return c.schema }

func (c *choiceControl) Value() any {
	if len(c.schema.Options) == 0 {
		return ""
	}
	return c.schema.Options[c.selected]
}

func (c *choiceControl) Set(v any) error {
	s := fmt.Sprint(v)
	for i, o := range c.schema.Options {
		if o == s {
			c.selected = i
			return nil
		}
	}
	return fmt.Errorf("%w: %q is not an option of %q", ErrInvalidValue, s, c.schema.Label)
}

type intControl struct {
	schema Schema
	value  int
}

func newIntControl(s Schema) Control {
	return &intControl{schema: s, value: s.Initial}
}

func (c *intControl) Schema() Schema { return c.schema }

func (c *intControl) Value() any { return c.value }

func (c *intControl) Set(v any) error {
	n, err := ToInt(v)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidValue, c.schema.Label, err)
	}
	c.value = min(max(n, c.schema.Min), c.schema.Max)
	return nil
}

// ToInt converts a control value (int, float64 from JSON, or numeric string) to an int.
func ToInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}
