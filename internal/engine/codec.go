package engine

import "encoding/json"

// ResultCodec turns a handler's result into the string persisted as
// the task's last result, and back. Implementations must produce
// values every store driver can hold, which means plain strings.
type ResultCodec interface {
	Encode(v any) (string, error)
	Decode(s string, into any) error
}

// JSONCodec is the default ResultCodec.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JSONCodec) Decode(s string, into any) error {
	return json.Unmarshal([]byte(s), into)
}
