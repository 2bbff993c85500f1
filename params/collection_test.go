package params

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBoundedInteger(t *testing.T) {
	s, err := NewBoundedInteger("Steps", 1, 100, 30)
	require.NoError(t, err)
	assert.Equal(t, BoundedInteger, s.Kind)
	assert.True(t, s.Contains(1))
	assert.True(t, s.Contains(100))
	assert.False(t, s.Contains(101))

	_, err = NewBoundedInteger("Steps", 10, 5, 7)
	assert.ErrorIs(t, err, ErrInvalidSchema)
	_, err = NewBoundedInteger("Steps", 1, 5, 7)
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestSet_RejectsDuplicateLabels(t *testing.T) {
	_, err := NewSet(
		Entry{Name: "width", Schema: MustBoundedInteger("Size", 256, 2048, 1024)},
		Entry{Name: "height", Schema: MustBoundedInteger("Size", 256, 2048, 1024)},
	)
	assert.ErrorIs(t, err, ErrDuplicateLabel)
}

func TestSet_KeepsInsertionOrder(t *testing.T) {
	set, err := NewSet(
		Entry{Name: "model_name", Schema: Choice("Model", "a", "b")},
		Entry{Name: "width", Schema: MustBoundedInteger("Illustration Width", 256, 2048, 1024)},
		Entry{Name: "steps", Schema: MustBoundedInteger("Steps", 1, 100, 30)},
	)
	require.NoError(t, err)

	var names []string
	for _, e := range set.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"model_name", "width", "steps"}, names)

	s, ok := set.Get("steps")
	require.True(t, ok)
	assert.Equal(t, 30, s.Initial)
}

func TestCollection_AddParamTwice(t *testing.T) {
	c := NewCollection()
	_, err := c.AddParam(Choice("Model", "a"))
	require.NoError(t, err)

	_, err = c.AddParam(Choice("Model", "b"))
	assert.ErrorIs(t, err, ErrDuplicateLabel)
}

func TestCollection_ValueForLabel(t *testing.T) {
	c := NewCollection()
	_, err := c.AddParam(Choice("Quality", "standard", "hd"))
	require.NoError(t, err)
	_, err = c.AddParam(MustBoundedInteger("Steps", 1, 100, 30))
	require.NoError(t, err)

	t.Run("unregistered label is absent", func(t *testing.T) {
		v, ok := c.ValueForLabel("Sampler")
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("initial values", func(t *testing.T) {
		v, ok := c.ValueForLabel("Quality")
		require.True(t, ok)
		assert.Equal(t, "standard", v)

		v, ok = c.ValueForLabel("Steps")
		require.True(t, ok)
		assert.Equal(t, 30, v)
	})

	t.Run("integers are clamped", func(t *testing.T) {
		require.NoError(t, c.SetValue("Steps", 500))
		v, _ := c.ValueForLabel("Steps")
		assert.Equal(t, 100, v)

		require.NoError(t, c.SetValue("Steps", float64(0)))
		v, _ = c.ValueForLabel("Steps")
		assert.Equal(t, 1, v)

		require.NoError(t, c.SetValue("Steps", "42"))
		v, _ = c.ValueForLabel("Steps")
		assert.Equal(t, 42, v)
	})

	t.Run("choices must be listed", func(t *testing.T) {
		assert.ErrorIs(t, c.SetValue("Quality", "ultra"), ErrInvalidValue)
		require.NoError(t, c.SetValue("Quality", "hd"))
		v, _ := c.ValueForLabel("Quality")
		assert.Equal(t, "hd", v)
	})

	t.Run("setting an unknown label", func(t *testing.T) {
		assert.ErrorIs(t, c.SetValue("Seed", 1), ErrMissingParameter)
	})
}

func TestCollection_Values(t *testing.T) {
	set, err := NewSet(
		Entry{Name: "model_name", Schema: Choice("Model", "dall-e-3")},
		Entry{Name: "width", Schema: Choice("Illustration Width", "1024", "1792")},
	)
	require.NoError(t, err)

	c, err := NewCollectionFor(set)
	require.NoError(t, err)
	assert.Equal(t, []string{"Model", "Illustration Width"}, c.Labels())

	values, err := c.Values(set)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"model_name": "dall-e-3", "width": "1024"}, values)

	other, err := NewSet(Entry{Name: "style", Schema: Choice("Style", "vivid")})
	require.NoError(t, err)
	_, err = c.Values(other)
	assert.ErrorIs(t, err, ErrMissingParameter)
}

func TestJSONSchema(t *testing.T) {
	set, err := NewSet(
		Entry{Name: "model_name", Schema: Choice("Model", "sd15", "sdxl")},
		Entry{Name: "steps", Schema: MustBoundedInteger("Steps", 1, 100, 30)},
	)
	require.NoError(t, err)

	raw, err := json.Marshal(JSONSchema("Stable Diffusion WebUI", set))
	require.NoError(t, err)

	var doc struct {
		Title      string                    `json:"title"`
		Required   []string                  `json:"required"`
		Properties map[string]map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "Stable Diffusion WebUI", doc.Title)
	assert.Equal(t, []string{"model_name", "steps"}, doc.Required)
	assert.Equal(t, "Steps", doc.Properties["steps"]["title"])
	assert.EqualValues(t, 100, doc.Properties["steps"]["maximum"])
	assert.Equal(t, []any{"sd15", "sdxl"}, doc.Properties["model_name"]["enum"])
}

func TestToInt(t *testing.T) {
	n, err := ToInt("1792")
	require.NoError(t, err)
	assert.Equal(t, 1792, n)

	_, err = ToInt(1.5)
	assert.Error(t, err)

	_, err = ToInt(struct{}{})
	assert.Error(t, err)
}
