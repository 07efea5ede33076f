package wazero

import (
	"context"
	"testing"

	"github.com/reglet-dev/portbridge/config"
	"github.com/reglet-dev/portbridge/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/wippyai/wasm-runtime/wasm"
)

func TestMemoryLimits(t *testing.T) {
	u64 := func(v uint64) *uint64 { return &v }

	tests := []struct {
		name    string
		cfg     config.MemoryConfig
		binding entities.MemoryBinding
		want    wasm.Limits
	}{
		{"defaults", config.MemoryConfig{}, entities.MemoryBinding{MinPages: 1}, wasm.Limits{Min: 1}},
		{"config initial wins", config.MemoryConfig{InitialPages: 4}, entities.MemoryBinding{MinPages: 1}, wasm.Limits{Min: 4}},
		{"module minimum wins", config.MemoryConfig{InitialPages: 1}, entities.MemoryBinding{MinPages: 3}, wasm.Limits{Min: 3}},
		{"config maximum", config.MemoryConfig{InitialPages: 1, MaximumPages: 8}, entities.MemoryBinding{MinPages: 1}, wasm.Limits{Min: 1, Max: u64(8)}},
		{
			"declared maximum",
			config.MemoryConfig{InitialPages: 2},
			entities.MemoryBinding{MinPages: 1, MaxPages: 16, HasMax: true},
			wasm.Limits{Min: 2, Max: u64(16)},
		},
		{
			"config maximum over declared",
			config.MemoryConfig{InitialPages: 2, MaximumPages: 4},
			entities.MemoryBinding{MinPages: 1, MaxPages: 16, HasMax: true},
			wasm.Limits{Min: 2, Max: u64(4)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MemoryLimits(tt.cfg, tt.binding))
		})
	}
}

func TestMemoryProviderBinary_Parses(t *testing.T) {
	maxPages := uint64(3)
	mod, err := wasm.ParseModule(MemoryProviderBinary(wasm.Limits{Min: 2, Max: &maxPages}))
	require.NoError(t, err)

	require.Len(t, mod.Memories, 1)
	assert.Equal(t, uint64(2), mod.Memories[0].Limits.Min)
	require.NotNil(t, mod.Memories[0].Limits.Max)
	assert.Equal(t, uint64(3), *mod.Memories[0].Limits.Max)

	require.Len(t, mod.Exports, 1)
	assert.Equal(t, entities.MemoryName, mod.Exports[0].Name)
	assert.Equal(t, byte(wasm.KindMemory), byte(mod.Exports[0].Kind))
}

func TestInstantiateMemory(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	mod, err := InstantiateMemory(ctx, rt, config.MemoryConfig{InitialPages: 2, MaximumPages: 3}, entities.MemoryBinding{MinPages: 1})
	require.NoError(t, err)
	assert.Equal(t, entities.MemoryNamespace, mod.Name())

	mem := mod.ExportedMemory(entities.MemoryName)
	require.NotNil(t, mem)
	assert.Equal(t, uint32(2*entities.PageSize), mem.Size())

	_, ok := mem.Grow(1)
	assert.True(t, ok)
	_, ok = mem.Grow(1)
	assert.False(t, ok, "maximum is enforced")
}

func TestInstantiateMemory_DeclaredMaximumBelowMinimum(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	_, err := InstantiateMemory(ctx, rt, config.MemoryConfig{InitialPages: 4}, entities.MemoryBinding{MinPages: 1, MaxPages: 2, HasMax: true})
	assert.Error(t, err)
}
