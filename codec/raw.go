package codec

import "fmt"

// Raw stores []byte and string results without transcoding.
// By convention strings are assumed to be UTF-8; no validation happens.
type Raw struct{}

var _ Codec = Raw{}

func (Raw) ID() byte     { return idRaw }
func (Raw) Name() string { return "raw" }

func (Raw) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("codec: raw cannot marshal %T", v)
	}
}

func (Raw) Unmarshal(b []byte, dst any) error {
	switch t := dst.(type) {
	case *[]byte:
		*t = append([]byte(nil), b...)
	case *string:
		*t = string(b)
	default:
		return fmt.Errorf("codec: raw cannot unmarshal into %T", dst)
	}
	return nil
}
