// Package errors provides domain-specific error types for the bridge.
// All error types support error unwrapping via errors.As() and errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/reglet-dev/portbridge/domain/entities"
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

var (
	// ErrStaleRegion is returned when an encoded message is read after a later allocation.
	ErrStaleRegion = stdErrors.New("encoded message region is stale: memory was allocated since it was written")

	// ErrReentrantSend is returned when an inbound port is called from inside an outbound dispatch.
	ErrReentrantSend = stdErrors.New("inbound port called from inside an outbound dispatch")

	// ErrClosed is returned by operations on a closed instance.
	ErrClosed = stdErrors.New("instance is closed")
)

// DetailedError is an interface for custom error types that can convert themselves
// to a structured ErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to our structured ErrorDetail.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
	}
}

// Stage identifies the load stage that failed.
type Stage string

const (
	StageFetch       Stage = "fetch"
	StageCompile     Stage = "compile"
	StageInstantiate Stage = "instantiate"
)

// LoadError is returned when a module could not be turned into an instance.
// No partial instance exists when a LoadError is returned.
type LoadError struct {
	Err    error
	Stage  Stage
	Source string
}

func (e *LoadError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("load %s failed at %s stage: %v", e.Source, e.Stage, e.Err)
	}
	return fmt.Sprintf("load failed at %s stage: %v", e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *LoadError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "load", Code: string(e.Stage)}
}

// WiringError reports a name that matches the port convention but fails structurally,
// for example an inbound export with the wrong signature.
type WiringError struct {
	Kind   string // "import" or "export"
	Module string // import namespace, empty for exports
	Name   string
	Reason string
}

func (e *WiringError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("invalid %s %s.%s: %s", e.Kind, e.Module, e.Name, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Name, e.Reason)
}

// ToErrorDetail implements DetailedError.
func (e *WiringError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "wiring", Code: e.Kind}
}

// DecodeError reports a payload that could not be decoded into a value.
// It is recoverable: the instance and its dispatch loop remain usable.
type DecodeError struct {
	Err        error
	Offset     uint32
	ByteLength uint32
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d bytes at offset %d: %v", e.ByteLength, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *DecodeError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "decode", Code: "malformed_payload", Recoverable: true}
}

// EncodeError reports a value that cannot be serialized to JSON text.
type EncodeError struct {
	Err  error
	Port string
}

func (e *EncodeError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("encode message for port %s: %v", e.Port, e.Err)
	}
	return fmt.Sprintf("encode message: %v", e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *EncodeError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "encode", Code: "unserializable", Recoverable: true}
}

// AllocationError represents a failure of the module's allocator. It is not retried.
type AllocationError struct {
	Err       error
	Requested uint32
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("memory allocation of %d bytes failed: %v", e.Requested, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *AllocationError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "memory", Code: "allocation"}
}

// MemoryError represents an access outside the current bounds of the shared memory.
type MemoryError struct {
	Offset uint32
	Length uint32
	Size   uint32 // memory size in bytes at the time of the access
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("memory access out of bounds: offset %d, length %d, memory size %d bytes",
		e.Offset, e.Length, e.Size)
}

// ToErrorDetail implements DetailedError.
func (e *MemoryError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "memory", Code: "out_of_bounds"}
}

// PortError reports a lookup of a port that does not exist in the given direction.
type PortError struct {
	Port      string
	Direction entities.Direction
}

func (e *PortError) Error() string {
	return fmt.Sprintf("no %s port named %q", e.Direction, e.Port)
}

// ToErrorDetail implements DetailedError.
func (e *PortError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "port", Code: "unknown_port", Recoverable: true}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Err   error
	Field string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config validation failed for field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *ConfigError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "config", Code: e.Field}
}

// PanicError wraps a panic recovered from a port handler.
type PanicError struct {
	Value any
	Port  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler for port %s panicked: %v", e.Port, e.Value)
}

// ToErrorDetail implements DetailedError.
func (e *PanicError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "panic", Code: e.Port, Recoverable: true}
}
