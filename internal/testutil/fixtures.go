package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/reglet-dev/portbridge/wireformat"
	"github.com/stretchr/testify/require"
	"github.com/wippyai/wasm-runtime/wat"
)

// Fixed regions pre-filled by BridgeModule's data segments.
const (
	OkOffset  = 16
	OkText    = `{"ok":true}`
	BadOffset = 64
	BadText   = `{"a":`

	// HeapBase is where the bump allocator hands out its first region.
	HeapBase = 1024
)

// bumpAllocator never frees: allocate(size) returns the current heap pointer and
// advances it by size.
const bumpAllocator = `
  (global $heap (mut i32) (i32.const 1024))
  (func $allocate (param $size i32) (result i32)
    (local $ptr i32)
    global.get $heap
    local.set $ptr
    global.get $heap
    local.get $size
    i32.add
    global.set $heap
    local.get $ptr)
  (export "allocate" (func $allocate))
`

// BridgeModule exercises every part of the convention:
//
//   - inPort$submit echoes its message to outPorts.onResult and records (offset, length)
//   - inPort$ping forwards its message to outPorts.log
//   - emit(offset, length) sends an arbitrary region on outPorts.onResult
//   - grow(pages) grows the shared memory
//   - _initialize sets a flag read back by initialized()
//   - outPort$decoy and inport$lower look like ports but are not
func BridgeModule() string {
	return `(module
  (import "outPorts" "onResult" (func $onResult (param i32 i32)))
  (import "outPorts" "log" (func $log (param i32 i32)))
  (import "js" "mem" (memory 1))
  (global $lastOffset (mut i32) (i32.const -1))
  (global $lastLength (mut i32) (i32.const -1))
  (global $initialized (mut i32) (i32.const 0))
` + bumpAllocator + fmt.Sprintf(`
  (data (i32.const %d) "%s")
  (data (i32.const %d) "%s")
`, OkOffset, UTF16Literal(OkText), BadOffset, UTF16Literal(BadText)) + `
  (func $submit (param $off i32) (param $len i32)
    local.get $off
    global.set $lastOffset
    local.get $len
    global.set $lastLength
    local.get $off
    local.get $len
    call $onResult)
  (func $ping (param $off i32) (param $len i32)
    local.get $off
    local.get $len
    call $log)
  (func $emit (param $off i32) (param $len i32)
    local.get $off
    local.get $len
    call $onResult)
  (func $grow (param $pages i32) (result i32)
    local.get $pages
    memory.grow)
  (func $getLastOffset (result i32)
    global.get $lastOffset)
  (func $getLastLength (result i32)
    global.get $lastLength)
  (func $getInitialized (result i32)
    global.get $initialized)
  (func $init
    i32.const 1
    global.set $initialized)
  (export "inPort$submit" (func $submit))
  (export "inPort$ping" (func $ping))
  (export "emit" (func $emit))
  (export "grow" (func $grow))
  (export "lastOffset" (func $getLastOffset))
  (export "lastLength" (func $getLastLength))
  (export "initialized" (func $getInitialized))
  (export "_initialize" (func $init))
  (export "outPort$decoy" (func $emit))
  (export "inport$lower" (func $emit))
)`
}

// ExportedMemoryModule defines and exports its own memory instead of importing js.mem.
func ExportedMemoryModule() string {
	return `(module
  (import "outPorts" "onResult" (func $onResult (param i32 i32)))
  (memory $mem 1)
` + bumpAllocator + `
  (func $submit (param $off i32) (param $len i32)
    local.get $off
    local.get $len
    call $onResult)
  (export "memory" (memory $mem))
  (export "inPort$submit" (func $submit))
)`
}

// ForeignImportModule imports a function from a namespace the bridge does not own.
func ForeignImportModule() string {
	return `(module
  (import "env" "now" (func $now (result i32)))
  (import "outPorts" "onResult" (func $onResult (param i32 i32)))
  (import "js" "mem" (memory 1))
  (func $tick (result i32)
    call $now)
  (export "tick" (func $tick))
)`
}

// WASIModule imports from WASI alongside the shared memory.
func WASIModule() string {
	return `(module
  (import "wasi_snapshot_preview1" "proc_exit" (func $exit (param i32)))
  (import "outPorts" "onResult" (func $onResult (param i32 i32)))
  (import "js" "mem" (memory 1))
)`
}

// TrappingAllocatorModule has an inbound port but an allocator that always traps.
func TrappingAllocatorModule() string {
	return `(module
  (import "js" "mem" (memory 1))
  (func $allocate (param $size i32) (result i32)
    unreachable)
  (func $submit (param $off i32) (param $len i32))
  (export "allocate" (func $allocate))
  (export "inPort$submit" (func $submit))
)`
}

// OutOfRangeAllocatorModule returns an offset past the end of memory.
func OutOfRangeAllocatorModule() string {
	return `(module
  (import "js" "mem" (memory 1))
  (func $allocate (param $size i32) (result i32)
    i32.const 131072)
  (func $submit (param $off i32) (param $len i32))
  (export "allocate" (func $allocate))
  (export "inPort$submit" (func $submit))
)`
}

// NoPortsModule has no ports and no memory.
func NoPortsModule() string {
	return `(module
  (func $answer (result i32)
    i32.const 42)
  (export "answer" (func $answer))
)`
}

// Malformed modules: each matches the convention by name and fails structurally.
var (
	BadInboundSignature = `(module
  (import "js" "mem" (memory 1))
` + bumpAllocator + `
  (func $submit (param $off i32))
  (export "inPort$submit" (func $submit))
)`

	EmptyInboundName = `(module
  (import "js" "mem" (memory 1))
` + bumpAllocator + `
  (func $submit (param $off i32) (param $len i32))
  (export "inPort$" (func $submit))
)`

	BadOutboundSignature = `(module
  (import "outPorts" "onResult" (func $onResult (param i32) (result i32)))
  (import "js" "mem" (memory 1))
)`

	OutboundGlobal = `(module
  (import "outPorts" "onResult" (global i32))
  (import "js" "mem" (memory 1))
)`

	MisnamedSharedMemory = `(module
  (import "js" "memory" (memory 1))
  (import "outPorts" "onResult" (func $onResult (param i32 i32)))
)`

	MissingAllocator = `(module
  (import "js" "mem" (memory 1))
  (func $submit (param $off i32) (param $len i32))
  (export "inPort$submit" (func $submit))
)`

	BadAllocatorSignature = `(module
  (import "js" "mem" (memory 1))
  (func $allocate (param $size i32))
  (func $submit (param $off i32) (param $len i32))
  (export "allocate" (func $allocate))
  (export "inPort$submit" (func $submit))
)`

	InboundGlobal = `(module
  (import "js" "mem" (memory 1))
` + bumpAllocator + `
  (global $g i32 (i32.const 0))
  (export "inPort$submit" (global $g))
)`

	AllocatorMemory = `(module
  (memory $m 1)
  (export "allocate" (memory $m))
)`

	MissingMemory = `(module
  (import "outPorts" "onResult" (func $onResult (param i32 i32)))
)`
)

// Compile turns WAT source into a wasm binary, failing the test on error.
func Compile(t testing.TB, source string) []byte {
	t.Helper()
	bin, err := wat.Compile(source)
	require.NoError(t, err, "fixture does not compile")
	return bin
}

// UTF16Literal renders s as a WAT string literal body holding its UTF-16LE code units.
func UTF16Literal(s string) string {
	units, err := wireformat.EncodeText([]byte(s))
	if err != nil {
		panic(err)
	}
	var b strings.Builder
	for _, c := range units {
		fmt.Fprintf(&b, `\%02x`, c)
	}
	return b.String()
}
