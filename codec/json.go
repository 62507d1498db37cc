package codec

import "encoding/json"

type JSON struct{}

var _ Codec = JSON{}

func (JSON) ID() byte                          { return idJSON }
func (JSON) Name() string                      { return "json" }
func (JSON) Marshal(v any) ([]byte, error)     { return json.Marshal(v) }
func (JSON) Unmarshal(b []byte, dst any) error { return json.Unmarshal(b, dst) }
