// Package config holds the user-facing configuration of the shared memory.
//
// A MemoryConfig can be built directly, decoded from a JS-style options map
// ({"initial": 1, "maximum": 16}) or parsed from YAML/JSON. Every entry point
// applies defaults and validates the result.
package config
