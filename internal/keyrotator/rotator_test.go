package keyrotator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotator_RoundRobin(t *testing.T) {
	r := New()
	keys := []string{"k1", "k2", "k3"}

	k1, err := r.Next("p", keys, nil)
	require.NoError(t, err)
	k2, err := r.Next("p", keys, nil)
	require.NoError(t, err)
	k3, err := r.Next("p", keys, nil)
	require.NoError(t, err)
	k4, err := r.Next("p", keys, nil)
	require.NoError(t, err)

	assert.Equal(t, "k1", k1)
	assert.Equal(t, "k2", k2)
	assert.Equal(t, "k3", k3)
	assert.Equal(t, "k1", k4, "cursor wraps back to the start")
}

func TestRotator_SkipsExcluded(t *testing.T) {
	r := New()
	keys := []string{"k1", "k2", "k3"}

	next, err := r.Next("p", keys, map[string]bool{"k1": true})
	require.NoError(t, err)
	assert.Equal(t, "k2", next)
}

func TestRotator_ExhaustedWhenAllExcluded(t *testing.T) {
	r := New()
	keys := []string{"k1", "k2"}

	_, err := r.Next("p", keys, map[string]bool{"k1": true, "k2": true})
	require.Error(t, err)
	var exhausted *ErrExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "p", exhausted.Provider)
}

func TestRotator_NoKeysConfigured(t *testing.T) {
	r := New()
	_, err := r.Next("p", nil, nil)
	require.Error(t, err)
}

func TestRotator_CursorIsPerProvider(t *testing.T) {
	r := New()
	a, err := r.Next("provider-a", []string{"a1", "a2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a1", a)

	b, err := r.Next("provider-b", []string{"b1", "b2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "b1", b, "a separate provider starts its own cursor at zero")
}

func TestRotator_Reset(t *testing.T) {
	r := New()
	keys := []string{"k1", "k2"}
	_, _ = r.Next("p", keys, nil)
	r.Reset("p")

	next, err := r.Next("p", keys, nil)
	require.NoError(t, err)
	assert.Equal(t, "k1", next)
}
