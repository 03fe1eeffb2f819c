package models

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalJSON encodes p with the keys of Extra alongside the known fields.
func (p Project) MarshalJSON() ([]byte, error) {
	type plain Project
	return withExtra(plain(p), p.Extra)
}

// MarshalJSON encodes t with the keys of Extra alongside the known fields.
func (t Template) MarshalJSON() ([]byte, error) {
	type plain Template
	return withExtra(plain(t), t.Extra)
}

// withExtra encodes v and adds every key of extra that v does not already
// have. Known fields win over extra keys of the same name.
func withExtra(v any, extra map[string]any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, ok := fields[k]; ok || k == "_id" {
			continue
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		fields[k] = raw
	}
	return json.Marshal(fields)
}
