package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDescriptor(id string) *Descriptor {
	return &Descriptor{
		ID:       id,
		Name:     id,
		Category: CategoryPrimary,
		Priority: 1,
		Weight:   50,
		Enabled:  true,
	}
}

func TestDescriptorValidate(t *testing.T) {
	require.NoError(t, validDescriptor("a").Validate())

	cases := []struct {
		name   string
		mutate func(*Descriptor)
	}{
		{"empty id", func(d *Descriptor) { d.ID = "" }},
		{"bad category", func(d *Descriptor) { d.Category = "tertiary" }},
		{"weight too low", func(d *Descriptor) { d.Weight = 0 }},
		{"weight too high", func(d *Descriptor) { d.Weight = 101 }},
		{"negative timeout", func(d *Descriptor) { d.Timeout = -time.Second }},
		{"negative retry count", func(d *Descriptor) { d.RetryCount = -1 }},
		{"negative failure threshold", func(d *Descriptor) { d.FailureThreshold = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDescriptor("a")
			tc.mutate(d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestGroupValidate(t *testing.T) {
	g := &Group{
		ID:       "g",
		Strategy: StrategyWeighted,
		Sources:  []*Descriptor{validDescriptor("a"), validDescriptor("b")},
	}
	require.NoError(t, g.Validate())

	assert.Error(t, (&Group{Strategy: StrategyFailover, Sources: g.Sources}).Validate())
	assert.Error(t, (&Group{ID: "g", Strategy: "bogus", Sources: g.Sources}).Validate())
	assert.Error(t, (&Group{ID: "g", Strategy: StrategyFailover}).Validate())

	dup := &Group{
		ID:       "g",
		Strategy: StrategyFailover,
		Sources:  []*Descriptor{validDescriptor("a"), validDescriptor("a")},
	}
	err := dup.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate source id")
}

func TestGroupEnabledAndMember(t *testing.T) {
	off := validDescriptor("off")
	off.Enabled = false
	g := &Group{
		ID:       "g",
		Strategy: StrategyFailover,
		Sources:  []*Descriptor{validDescriptor("a"), off, validDescriptor("b")},
	}

	enabled := g.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "a", enabled[0].ID)
	assert.Equal(t, "b", enabled[1].ID)

	assert.NotNil(t, g.Member("off"))
	assert.Nil(t, g.Member("missing"))
}

func TestValidStrategy(t *testing.T) {
	for _, s := range []Strategy{StrategyFailover, StrategyWeighted, StrategyLeastConnections, StrategyResponseTime} {
		assert.True(t, ValidStrategy(s))
	}
	assert.False(t, ValidStrategy("round_trip"))
	assert.False(t, ValidStrategy(""))
}
