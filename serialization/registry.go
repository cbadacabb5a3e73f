// Package serialization maps Go types to JSON message bodies. The registered
// type name travels in broker.Message.Type so the receiving side can decode
// the body into the right struct.
package serialization

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	// ErrUnknownType is returned for type names or values that were never registered
	ErrUnknownType = errors.New("type not registered")
	// ErrInvalidType is returned when registering something other than a struct
	ErrInvalidType = errors.New("invalid message type")
)

// TypeRegistry manages message type registrations for serialization
type TypeRegistry struct {
	types map[string]reflect.Type
	names map[reflect.Type]string
	mu    sync.RWMutex
}

// NewTypeRegistry creates a new type registry
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		types: make(map[string]reflect.Type),
		names: make(map[reflect.Type]string),
	}
}

// Register registers a message type with a type name. Registering the same
// pair twice is a no-op.
func (r *TypeRegistry) Register(typeName string, msgType any) error {
	if typeName == "" {
		return fmt.Errorf("%w: type name cannot be empty", ErrInvalidType)
	}

	t, err := structType(msgType)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.types[typeName]; exists {
		if existing == t {
			return nil
		}
		return fmt.Errorf("%w: type name %s already registered to %v", ErrInvalidType, typeName, existing)
	}
	if existing, exists := r.names[t]; exists {
		return fmt.Errorf("%w: %v already registered as %s", ErrInvalidType, t, existing)
	}

	r.types[typeName] = t
	r.names[t] = typeName
	return nil
}

// RegisterType registers a message type under its struct name
func (r *TypeRegistry) RegisterType(msgType any) error {
	t, err := structType(msgType)
	if err != nil {
		return err
	}
	if t.Name() == "" {
		return fmt.Errorf("%w: cannot determine type name for %v", ErrInvalidType, t)
	}
	return r.Register(t.Name(), msgType)
}

// New returns a pointer to a zero value of the type registered as typeName
func (r *TypeRegistry) New(typeName string) (any, error) {
	r.mu.RLock()
	t, exists := r.types[typeName]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	return reflect.New(t).Interface(), nil
}

// TypeName returns the registered name for a value or pointer to it
func (r *TypeRegistry) TypeName(v any) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%w: nil value", ErrUnknownType)
	}

	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, exists := r.names[t]
	if !exists {
		return "", fmt.Errorf("%w: %v", ErrUnknownType, t)
	}
	return name, nil
}

// IsRegistered checks if a type name is registered
func (r *TypeRegistry) IsRegistered(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.types[typeName]
	return exists
}

// Types returns all registered type names, sorted
func (r *TypeRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.types))
	for typeName := range r.types {
		types = append(types, typeName)
	}
	sort.Strings(types)
	return types
}

func structType(v any) (reflect.Type, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: message type cannot be nil", ErrInvalidType)
	}

	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: must be a struct, got %v", ErrInvalidType, t.Kind())
	}
	return t, nil
}
