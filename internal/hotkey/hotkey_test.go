package hotkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macroctl/internal/log"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ALT+CTRL+R", Normalize("ctrl + alt+r"))
	assert.Equal(t, Normalize("Alt+Ctrl+R"), Normalize("ctrl+ALT+r"))
	assert.Equal(t, "F6", Normalize("f6"))
}

func TestRegisterAndPress(t *testing.T) {
	m := NewManager(log.Discard())
	var captured, recorded int
	require.NoError(t, m.Register("F6", "capture", func() { captured++ }))
	require.NoError(t, m.Register("Ctrl+F9", "record", func() { recorded++ }))

	assert.Equal(t, 1, m.Press("f6"))
	assert.Equal(t, 1, captured)

	assert.Equal(t, 1, m.Press("ctrl+f9"))
	assert.Equal(t, 1, recorded)

	// F9 alone is not the same combination.
	assert.Equal(t, 0, m.Press("F9"))
	assert.Equal(t, 1, recorded)
}

func TestUpdateStateRequiresAllKeys(t *testing.T) {
	m := NewManager(log.Discard())
	var hits int
	require.NoError(t, m.Register("Ctrl+Alt+1", "one", func() { hits++ }))

	assert.Zero(t, m.UpdateState("ctrl", true))
	assert.Zero(t, m.UpdateState("alt", true))
	assert.Equal(t, 1, m.UpdateState("1", true))
	m.UpdateState("1", false)
	m.UpdateState("alt", false)
	m.UpdateState("ctrl", false)
	assert.Equal(t, 1, hits)
}

func TestRegisterErrors(t *testing.T) {
	m := NewManager(log.Discard())
	assert.ErrorIs(t, m.Register("  ", "blank", func() {}), ErrEmptyCombo)
	require.NoError(t, m.Register("Ctrl+A", "a", func() {}))
	assert.ErrorIs(t, m.Register("a+ctrl", "again", func() {}), ErrDuplicateCombo)
}

func TestBindingsAndClear(t *testing.T) {
	m := NewManager(log.Discard())
	require.NoError(t, m.Register("F1", "click_left", func() {}))
	require.NoError(t, m.Register("F2", "click_middle", func() {}))

	assert.Equal(t, []Binding{{"F1", "click_left"}, {"F2", "click_middle"}}, m.Bindings())

	m.Clear()
	assert.Empty(t, m.Bindings())
	assert.Zero(t, m.Press("F1"))
}
