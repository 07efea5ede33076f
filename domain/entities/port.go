package entities

import "sort"

// Direction is the flow of messages through a port.
type Direction string

const (
	// Inbound ports carry messages from the host into the module.
	Inbound Direction = "inbound"
	// Outbound ports carry messages from the module to the host.
	Outbound Direction = "outbound"
)

// Naming convention shared by the host and the module. There is no negotiation step:
// both sides agree on these names ahead of time.
const (
	// OutPortNamespace is the import module under which every outbound port is declared.
	OutPortNamespace = "outPorts"

	// InPortPrefix marks an exported function as an inbound port. The port name is the
	// remainder of the export name.
	InPortPrefix = "inPort$"

	// MemoryNamespace and MemoryName identify the shared memory import.
	MemoryNamespace = "js"
	MemoryName      = "mem"

	// AllocateExport is the module's allocator: allocate(byteLength i32) -> offset i32.
	AllocateExport = "allocate"

	// InitializeExport is called once after instantiation when present (reactor modules).
	InitializeExport = "_initialize"

	// WASINamespace is satisfied by the host's WASI implementation when imported.
	WASINamespace = "wasi_snapshot_preview1"

	// PageSize is the size of one linear memory page in bytes.
	PageSize = 65536
)

// Port describes one named, one-directional channel.
type Port struct {
	// Name is unique within its direction.
	Name string `json:"name"`

	// Direction is inbound (host to module) or outbound (module to host).
	Direction Direction `json:"direction"`

	// Symbol is the wasm export (inbound) or import (outbound) backing the port.
	Symbol string `json:"symbol"`
}

// MemoryBinding describes how the shared memory reaches the module.
type MemoryBinding struct {
	// ExportName is set when the module defines its own memory instead of importing it.
	ExportName string `json:"export_name,omitempty"`

	MinPages uint32 `json:"min_pages"`
	MaxPages uint32 `json:"max_pages,omitempty"`
	HasMax   bool   `json:"has_max,omitempty"`

	// Imported is true when the module imports js.mem.
	Imported bool `json:"imported"`
}

// PortTable is the static role table produced by the wiring-time reflection pass.
// It is computed once per module and never mutated afterwards.
type PortTable struct {
	Inbound  []Port        `json:"inbound"`
	Outbound []Port        `json:"outbound"`
	Memory   MemoryBinding `json:"memory"`

	// ForeignNamespaces lists import namespaces that are neither ports, memory nor WASI.
	ForeignNamespaces []string `json:"foreign_namespaces,omitempty"`

	HasAllocator   bool `json:"has_allocator"`
	HasInitializer bool `json:"has_initializer"`
	ImportsWASI    bool `json:"imports_wasi"`
}

// Ports returns every port, inbound first, each group sorted by name.
func (t *PortTable) Ports() []Port {
	out := make([]Port, 0, len(t.Inbound)+len(t.Outbound))
	out = append(out, t.Inbound...)
	out = append(out, t.Outbound...)
	return out
}

// Lookup finds a port by name and direction.
func (t *PortTable) Lookup(name string, dir Direction) (Port, bool) {
	list := t.Inbound
	if dir == Outbound {
		list = t.Outbound
	}
	for _, p := range list {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// OutboundNames returns the outbound port names in sorted order.
func (t *PortTable) OutboundNames() []string {
	names := make([]string, len(t.Outbound))
	for i, p := range t.Outbound {
		names[i] = p.Name
	}
	return names
}

// SortPorts orders ports by name, in place.
func SortPorts(ports []Port) {
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
}
