package wazero

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reglet-dev/portbridge/domain/entities"
	"github.com/reglet-dev/portbridge/domain/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/wasm-runtime/wasm"
)

var (
	portParams     = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	allocateParams = []api.ValueType{api.ValueTypeI32}
)

// Inspect performs the single reflection pass over a compiled module and returns its
// port table. Names that follow the port convention but fail structurally are reported
// as *errors.WiringError. Imports from other namespaces and exports without the inbound
// prefix are never ports.
//
// binary is optional. When given, it is parsed to catch convention names bound to
// globals, tables or memories, which the compiled module's function views do not list.
func Inspect(compiled wazero.CompiledModule, binary []byte) (*entities.PortTable, error) {
	table := &entities.PortTable{}

	if len(binary) > 0 {
		if err := checkKinds(binary); err != nil {
			return nil, err
		}
	}

	foreign := map[string]struct{}{}
	seenOut := map[string]struct{}{}
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		switch module {
		case entities.OutPortNamespace:
			if name == "" {
				return nil, &errors.WiringError{Kind: "import", Module: module, Name: name, Reason: "port name is empty"}
			}
			if !signatureIs(def, portParams, nil) {
				return nil, &errors.WiringError{Kind: "import", Module: module, Name: name,
					Reason: "signature must be (i32, i32) -> (), got " + signature(def)}
			}
			if _, dup := seenOut[name]; dup {
				continue
			}
			seenOut[name] = struct{}{}
			table.Outbound = append(table.Outbound, entities.Port{
				Name:      name,
				Direction: entities.Outbound,
				Symbol:    module + "." + name,
			})
		case entities.WASINamespace:
			table.ImportsWASI = true
		default:
			foreign[module] = struct{}{}
		}
	}

	for _, def := range compiled.ImportedMemories() {
		module, name, _ := def.Import()
		if module != entities.MemoryNamespace {
			foreign[module] = struct{}{}
			continue
		}
		if name != entities.MemoryName {
			return nil, &errors.WiringError{Kind: "import", Module: module, Name: name,
				Reason: fmt.Sprintf("shared memory must be imported as %s.%s", entities.MemoryNamespace, entities.MemoryName)}
		}
		table.Memory.Imported = true
		table.Memory.MinPages = def.Min()
		if maxPages, ok := def.Max(); ok {
			table.Memory.MaxPages, table.Memory.HasMax = maxPages, true
		}
	}

	for exportName, def := range compiled.ExportedFunctions() {
		switch {
		case strings.HasPrefix(exportName, entities.InPortPrefix):
			portName := strings.TrimPrefix(exportName, entities.InPortPrefix)
			if portName == "" {
				return nil, &errors.WiringError{Kind: "export", Name: exportName, Reason: "port name is empty"}
			}
			if !signatureIs(def, portParams, nil) {
				return nil, &errors.WiringError{Kind: "export", Name: exportName,
					Reason: "signature must be (i32, i32) -> (), got " + signature(def)}
			}
			table.Inbound = append(table.Inbound, entities.Port{
				Name:      portName,
				Direction: entities.Inbound,
				Symbol:    exportName,
			})
		case exportName == entities.AllocateExport:
			if !signatureIs(def, allocateParams, allocateParams) {
				return nil, &errors.WiringError{Kind: "export", Name: exportName,
					Reason: "signature must be (i32) -> i32, got " + signature(def)}
			}
			table.HasAllocator = true
		case exportName == entities.InitializeExport:
			if !signatureIs(def, nil, nil) {
				return nil, &errors.WiringError{Kind: "export", Name: exportName,
					Reason: "signature must be () -> (), got " + signature(def)}
			}
			table.HasInitializer = true
		}
	}

	if !table.Memory.Imported {
		table.Memory.ExportName = exportedMemoryName(compiled.ExportedMemories())
	}

	for module := range foreign {
		table.ForeignNamespaces = append(table.ForeignNamespaces, module)
	}
	sort.Strings(table.ForeignNamespaces)
	entities.SortPorts(table.Inbound)
	entities.SortPorts(table.Outbound)

	hasPorts := len(table.Inbound) > 0 || len(table.Outbound) > 0
	if hasPorts && !table.Memory.Imported && table.Memory.ExportName == "" {
		return nil, &errors.WiringError{Kind: "import", Module: entities.MemoryNamespace, Name: entities.MemoryName,
			Reason: "module has ports but neither imports the shared memory nor exports a memory"}
	}
	if len(table.Inbound) > 0 && !table.HasAllocator {
		return nil, &errors.WiringError{Kind: "export", Name: entities.AllocateExport,
			Reason: "required when the module has inbound ports"}
	}

	return table, nil
}

// exportedMemoryName prefers the conventional "memory" export, then the first by name.
func exportedMemoryName(mems map[string]api.MemoryDefinition) string {
	if len(mems) == 0 {
		return ""
	}
	if _, ok := mems["memory"]; ok {
		return "memory"
	}
	names := make([]string, 0, len(mems))
	for name := range mems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0]
}

// checkKinds rejects convention names bound to the wrong kind of entity: port-namespace
// imports and inbound, allocator or initializer exports that are not functions, and a
// js.mem import that is not a memory.
func checkKinds(binary []byte) error {
	mod, err := wasm.ParseModule(binary)
	if err != nil {
		return fmt.Errorf("failed to parse module: %w", err)
	}
	for _, imp := range mod.Imports {
		switch {
		case imp.Module == entities.OutPortNamespace && imp.Desc.Kind != wasm.KindFunc:
			return &errors.WiringError{Kind: "import", Module: imp.Module, Name: imp.Name,
				Reason: "outbound ports must be imported as functions"}
		case imp.Module == entities.MemoryNamespace && imp.Name == entities.MemoryName && imp.Desc.Kind != wasm.KindMemory:
			return &errors.WiringError{Kind: "import", Module: imp.Module, Name: imp.Name,
				Reason: "shared memory must be imported as a memory"}
		}
	}
	for _, exp := range mod.Exports {
		if exp.Kind == wasm.KindFunc {
			continue
		}
		if strings.HasPrefix(exp.Name, entities.InPortPrefix) ||
			exp.Name == entities.AllocateExport || exp.Name == entities.InitializeExport {
			return &errors.WiringError{Kind: "export", Name: exp.Name,
				Reason: "must be exported as a function"}
		}
	}
	return nil
}

func signatureIs(def api.FunctionDefinition, params, results []api.ValueType) bool {
	return equalTypes(def.ParamTypes(), params) && equalTypes(def.ResultTypes(), results)
}

func equalTypes(got, want []api.ValueType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func signature(def api.FunctionDefinition) string {
	return "(" + typeNames(def.ParamTypes()) + ") -> (" + typeNames(def.ResultTypes()) + ")"
}

func typeNames(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}
