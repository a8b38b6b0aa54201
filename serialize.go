package reflow

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/joeycumines/go-reflow/vars"
)

// SerializerFunc converts a domain value into a JSON-encodable wire value.
type SerializerFunc func(value any) (any, error)

// Serializers is a pluggable per-type serializer registry. Lookup order is:
// exact type match, then registered interface types in registration order
// (the first match wins, standing in for the nearest registered ancestor),
// then the built-in handling of primitives, sequences, and mappings. A value
// none of those cover fails with a *SerializationError rather than being
// dropped.
type Serializers struct {
	mu     sync.RWMutex
	exact  map[reflect.Type]SerializerFunc
	ifaces []ifaceSerializer
}

type ifaceSerializer struct {
	typ reflect.Type
	fn  SerializerFunc
}

// NewSerializers returns a registry preloaded with serializers for
// time.Time (RFC 3339), time.Duration (milliseconds), and vars.Var
// (rendered expression text).
func NewSerializers() *Serializers {
	s := &Serializers{exact: make(map[reflect.Type]SerializerFunc)}
	s.Register(reflect.TypeOf(time.Time{}), func(v any) (any, error) {
		return v.(time.Time).Format(time.RFC3339Nano), nil
	})
	s.Register(reflect.TypeOf(time.Duration(0)), func(v any) (any, error) {
		return v.(time.Duration).Milliseconds(), nil
	})
	s.Register(reflect.TypeOf(vars.Var{}), func(v any) (any, error) {
		return v.(vars.Var).String(), nil
	})
	return s
}

// Register installs a serializer for an exact type, replacing any previous
// registration for it.
func (s *Serializers) Register(t reflect.Type, fn SerializerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Kind() == reflect.Interface {
		for i, entry := range s.ifaces {
			if entry.typ == t {
				s.ifaces[i].fn = fn
				return
			}
		}
		s.ifaces = append(s.ifaces, ifaceSerializer{typ: t, fn: fn})
		return
	}
	s.exact[t] = fn
}

// RegisterValue installs a serializer keyed by the dynamic type of sample.
func (s *Serializers) RegisterValue(sample any, fn SerializerFunc) {
	s.Register(reflect.TypeOf(sample), fn)
}

// Serialize converts a value for the wire.
func (s *Serializers) Serialize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	t := reflect.TypeOf(value)
	s.mu.RLock()
	fn, ok := s.exact[t]
	if !ok {
		for _, entry := range s.ifaces {
			if t.Implements(entry.typ) {
				fn, ok = entry.fn, true
				break
			}
		}
	}
	s.mu.RUnlock()
	if ok {
		return fn(value)
	}
	return s.serializeBuiltin(reflect.ValueOf(value))
}

func (s *Serializers) serializeBuiltin(v reflect.Value) (any, error) {
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v.Interface(), nil
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return s.Serialize(v.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil, nil
		}
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			sv, err := s.Serialize(v.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key, err := mapKeyString(iter.Key())
			if err != nil {
				return nil, err
			}
			sv, err := s.Serialize(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[key] = sv
		}
		return out, nil
	default:
		return nil, &SerializationError{Type: v.Type().String()}
	}
}

func mapKeyString(key reflect.Value) (string, error) {
	switch key.Kind() {
	case reflect.String:
		return key.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", key.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf("%d", key.Uint()), nil
	default:
		return "", &SerializationError{Type: "map key " + key.Type().String()}
	}
}
