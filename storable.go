package cachehouse

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/reflect/protoreflect"
)

var selfEncoders = []reflect.Type{
	reflect.TypeOf((*json.Marshaler)(nil)).Elem(),
	reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem(),
	reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem(),
	reflect.TypeOf((*msgpack.CustomEncoder)(nil)).Elem(),
	reflect.TypeOf((*msgpack.Marshaler)(nil)).Elem(),
	reflect.TypeOf((*cbor.Marshaler)(nil)).Elem(),
	reflect.TypeOf((*protoreflect.ProtoMessage)(nil)).Elem(),
}

// reflect.Type -> error (nil when storable)
var storableCache sync.Map

// checkStorable rejects types a codec would encode lossily without failing:
// structs with unexported fields (silently dropped) and kinds no codec can
// represent. Types that encode themselves are trusted.
func checkStorable(t reflect.Type) error {
	if t == nil {
		return nil
	}
	if v, ok := storableCache.Load(t); ok {
		err, _ := v.(error)
		return err
	}
	err := walkStorable(t, make(map[reflect.Type]bool))
	storableCache.Store(t, err)
	return err
}

func walkStorable(t reflect.Type, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true
	if encodesItself(t) {
		return nil
	}

	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Errorf("%s values cannot be stored", t)
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return walkStorable(t.Elem(), seen)
	case reflect.Map:
		if err := walkStorable(t.Key(), seen); err != nil {
			return err
		}
		return walkStorable(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.IsExported() {
				if err := walkStorable(f.Type, seen); err != nil {
					return err
				}
				continue
			}
			// exported fields of an embedded unexported struct are promoted
			if f.Anonymous && underlyingKind(f.Type) == reflect.Struct {
				if err := walkStorable(f.Type, seen); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("%s.%s is unexported and would be dropped", t, f.Name)
		}
	}
	return nil
}

func encodesItself(t reflect.Type) bool {
	pt := reflect.PointerTo(t)
	for _, iface := range selfEncoders {
		if t.Implements(iface) || pt.Implements(iface) {
			return true
		}
	}
	return false
}

func underlyingKind(t reflect.Type) reflect.Kind {
	if t.Kind() == reflect.Pointer {
		return t.Elem().Kind()
	}
	return t.Kind()
}
