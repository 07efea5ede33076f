package wazero

import (
	"context"
	"fmt"

	"github.com/reglet-dev/portbridge/config"
	"github.com/reglet-dev/portbridge/domain/entities"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/wasm-runtime/wasm"
)

// MemoryLimits resolves the page limits of the shared memory from the user config and
// the limits the module declares on its js.mem import. The module's minimum wins over a
// smaller configured initial size; a configured maximum wins over the declared one.
func MemoryLimits(cfg config.MemoryConfig, binding entities.MemoryBinding) wasm.Limits {
	cfg = cfg.WithDefaults()

	limits := wasm.Limits{Min: uint64(cfg.InitialPages)}
	if uint64(binding.MinPages) > limits.Min {
		limits.Min = uint64(binding.MinPages)
	}

	switch {
	case cfg.HasMaximum():
		maxPages := uint64(cfg.MaximumPages)
		limits.Max = &maxPages
	case binding.HasMax:
		maxPages := uint64(binding.MaxPages)
		limits.Max = &maxPages
	}
	return limits
}

// MemoryProviderBinary encodes a module that defines one memory with the given limits
// and exports it as "mem".
func MemoryProviderBinary(limits wasm.Limits) []byte {
	mod := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: limits}},
		Exports: []wasm.Export{
			{Name: entities.MemoryName, Kind: wasm.KindMemory, Idx: 0},
		},
	}
	return mod.Encode()
}

// InstantiateMemory instantiates the "js" module that owns the shared memory.
// The returned module must be closed with the runtime.
func InstantiateMemory(ctx context.Context, runtime wazero.Runtime, cfg config.MemoryConfig, binding entities.MemoryBinding) (api.Module, error) {
	limits := MemoryLimits(cfg, binding)
	if limits.Max != nil && *limits.Max < limits.Min {
		return nil, fmt.Errorf("memory maximum %d pages is below minimum %d pages", *limits.Max, limits.Min)
	}

	compiled, err := runtime.CompileModule(ctx, MemoryProviderBinary(limits))
	if err != nil {
		return nil, fmt.Errorf("failed to compile memory provider: %w", err)
	}

	mod, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(entities.MemoryNamespace))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate memory provider: %w", err)
	}
	return mod, nil
}
