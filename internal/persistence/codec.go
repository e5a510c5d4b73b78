package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/petrijr/flowstate/pkg/api"
)

// EncodeValue serializes a concrete Go value using encoding/gob.
// A nil value encodes to nil.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes a payload produced by EncodeValue into T.
// Empty input yields the zero value.
func DecodeValue[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, fmt.Errorf("gob decode %T: %w", v, err)
	}
	return v, nil
}

// definitionBody is the persisted shape of a definition's structure. ID
// and name live in their own columns so the stores can index them.
type definitionBody struct {
	States  []api.State
	Actions []api.Action
}

// EncodeDefinitionBody encodes the states and actions of def.
func EncodeDefinitionBody(def *api.Definition) ([]byte, error) {
	return EncodeValue(definitionBody{States: def.States, Actions: def.Actions})
}

// DecodeDefinitionBody rebuilds a definition from its columns.
func DecodeDefinitionBody(id, name string, data []byte) (*api.Definition, error) {
	body, err := DecodeValue[definitionBody](data)
	if err != nil {
		return nil, err
	}
	def := &api.Definition{ID: id, Name: name, States: body.States, Actions: body.Actions}
	// gob drops empty slices; keep JSON output stable.
	if def.States == nil {
		def.States = []api.State{}
	}
	if def.Actions == nil {
		def.Actions = []api.Action{}
	}
	for i := range def.Actions {
		if def.Actions[i].FromStates == nil {
			def.Actions[i].FromStates = []string{}
		}
	}
	return def, nil
}
