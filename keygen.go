package cachehouse

import (
	"crypto/md5"
	"encoding"
	"encoding/hex"
	"errors"
	"reflect"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// Args are the arguments of one invocation. Positional order is significant;
// Keyword is canonicalized by name, so the order a caller built it in never
// changes the key.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// Positional is shorthand for Args{Positional: vals}.
func Positional(vals ...any) Args { return Args{Positional: vals} }

// KeyBuilder derives the storage key of one call.
type KeyBuilder func(qualifier, name string, args Args, namespace, prefix string) (string, error)

// KeyMarshaler lets argument types pick their own fingerprint.
// The returned string must be stable across processes.
type KeyMarshaler interface {
	CacheKey() string
}

// DefaultKeyBuilder returns "{prefix}:{namespace}:{md5 hex}" where the digest
// covers Fingerprint(qualifier, name, args).
func DefaultKeyBuilder(qualifier, name string, args Args, namespace, prefix string) (string, error) {
	fp, err := Fingerprint(qualifier, name, args)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(fp))
	return prefix + ":" + namespace + ":" + hex.EncodeToString(sum[:]), nil
}

// Fingerprint renders the canonical text hashed by DefaultKeyBuilder:
//
//	"{qualifier}":"{name}":[{positional},...]:{"{keyword}"={value},...}
//
// Qualifier, name and keyword names are quoted. Values are type tagged (int:1 and str:"1" differ), strings are quoted,
// map entries and keyword args are sorted, pointers are followed. This text
// is part of the persisted key format; changing it orphans existing entries.
func Fingerprint(qualifier, name string, args Args) (string, error) {
	var sb strings.Builder
	sb.WriteString(strconv.Quote(qualifier))
	sb.WriteByte(':')
	sb.WriteString(strconv.Quote(name))
	sb.WriteString(":[")
	for i, a := range args.Positional {
		if i > 0 {
			sb.WriteByte(',')
		}
		if err := writeArg(&sb, "#"+strconv.Itoa(i), a); err != nil {
			return "", err
		}
	}
	sb.WriteString("]:{")

	names := make([]string, 0, len(args.Keyword))
	for k := range args.Keyword {
		names = append(names, k)
	}
	sort.Strings(names)
	for i, k := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Quote(k))
		sb.WriteByte('=')
		if err := writeArg(&sb, k, args.Keyword[k]); err != nil {
			return "", err
		}
	}
	sb.WriteByte('}')
	return sb.String(), nil
}

func writeArg(sb *strings.Builder, label string, a any) error {
	if err := writeValue(sb, reflect.ValueOf(a), 0); err != nil {
		typ := "nil"
		if a != nil {
			typ = reflect.TypeOf(a).String()
		}
		return &KeyError{Arg: label, Type: typ, Reason: err.Error()}
	}
	return nil
}

const maxKeyDepth = 32

var (
	keyMarshalerType  = reflect.TypeOf((*KeyMarshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

func writeValue(sb *strings.Builder, v reflect.Value, depth int) error {
	if depth > maxKeyDepth {
		return errors.New("value nested too deeply (cyclic?)")
	}
	if !v.IsValid() {
		sb.WriteString("nil")
		return nil
	}
	if nilable(v.Kind()) && v.IsNil() {
		sb.WriteString("nil")
		return nil
	}

	if v.CanInterface() {
		switch {
		case v.Type().Implements(keyMarshalerType):
			sb.WriteString("key:")
			sb.WriteString(strconv.Quote(v.Interface().(KeyMarshaler).CacheKey()))
			return nil
		case v.Type().Implements(textMarshalerType):
			b, err := v.Interface().(encoding.TextMarshaler).MarshalText()
			if err != nil {
				return err
			}
			sb.WriteString("text:")
			sb.WriteString(strconv.Quote(string(b)))
			return nil
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		sb.WriteString("bool:")
		sb.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sb.WriteString("int:")
		sb.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		sb.WriteString("uint:")
		sb.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		sb.WriteString("float:")
		sb.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 64))
	case reflect.Complex64, reflect.Complex128:
		sb.WriteString("complex:")
		sb.WriteString(strconv.FormatComplex(v.Complex(), 'g', -1, 128))
	case reflect.String:
		sb.WriteString("str:")
		sb.WriteString(strconv.Quote(v.String()))
	case reflect.Pointer, reflect.Interface:
		return writeValue(sb, v.Elem(), depth+1)
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			sb.WriteString("bytes:")
			sb.WriteString(hex.EncodeToString(v.Bytes()))
			return nil
		}
		return writeList(sb, v, depth)
	case reflect.Array:
		return writeList(sb, v, depth)
	case reflect.Map:
		return writeMap(sb, v, depth)
	case reflect.Struct:
		sb.WriteString(v.Type().String())
		sb.WriteByte('{')
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(t.Field(i).Name)
			sb.WriteByte(':')
			if err := writeValue(sb, v.Field(i), depth+1); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return errors.New("kind " + v.Kind().String() + " cannot be fingerprinted")
	}
	return nil
}

func writeList(sb *strings.Builder, v reflect.Value, depth int) error {
	sb.WriteString(v.Type().String())
	sb.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		if err := writeValue(sb, v.Index(i), depth+1); err != nil {
			return err
		}
	}
	sb.WriteByte(']')
	return nil
}

func writeMap(sb *strings.Builder, v reflect.Value, depth int) error {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		var kb, vb strings.Builder
		if err := writeValue(&kb, iter.Key(), depth+1); err != nil {
			return err
		}
		if err := writeValue(&vb, iter.Value(), depth+1); err != nil {
			return err
		}
		pairs = append(pairs, pair{kb.String(), vb.String()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })

	sb.WriteString(v.Type().String())
	sb.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.k)
		sb.WriteByte('=')
		sb.WriteString(p.v)
	}
	sb.WriteByte('}')
	return nil
}

func nilable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	}
	return false
}

// funcIdentity splits the runtime symbol of fn into its package path and the
// remaining name, e.g. "github.com/acme/users" and "(*Repo).Get-fm".
func funcIdentity(fn any) (qualifier, name string) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "", ""
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "", ""
	}
	return splitSymbol(f.Name())
}

// splitSymbol splits a runtime symbol at the end of its package path. The
// linker escapes dots in the last path element ("gopkg.in/yaml%2ev3.Load");
// unescaped major-version elements such as "yaml.v3" are also recognized.
func splitSymbol(full string) (qualifier, name string) {
	start := strings.LastIndex(full, "/") + 1
	tail := full[start:]
	dot := strings.IndexByte(tail, '.')
	if dot < 0 {
		return "", full
	}
	if !strings.Contains(tail[:dot], "%2e") {
		for {
			rest := tail[dot+1:]
			next := strings.IndexByte(rest, '.')
			if next < 0 || !isMajorVersion(rest[:next]) {
				break
			}
			dot += next + 1
		}
	}
	return strings.ReplaceAll(full[:start+dot], "%2e", "."), tail[dot+1:]
}

func isMajorVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
