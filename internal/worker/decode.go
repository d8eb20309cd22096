package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cozy-creator/genjobs/internal/types"
)

const (
	SchemaGenerationResponse = "generation response"
	SchemaModels             = "model list"
	SchemaLoras              = "lora list"
	SchemaUnit               = "unit"
)

func decodeDocument(raw []byte, schema string, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	if err := decoder.Decode(v); err != nil {
		return &types.DecodeError{Schema: schema, Raw: raw, Err: err}
	}

	var trailing json.RawMessage
	if err := decoder.Decode(&trailing); !errors.Is(err, io.EOF) {
		return &types.DecodeError{Schema: schema, Raw: raw, Err: fmt.Errorf("unexpected data after json document")}
	}

	return nil
}

func DecodeGenerationResponse(raw []byte) (*types.GenerationResponse, error) {
	var response types.GenerationResponse
	if err := decodeDocument(raw, SchemaGenerationResponse, &response); err != nil {
		return nil, err
	}

	if err := response.Validate(); err != nil {
		return nil, &types.DecodeError{Schema: SchemaGenerationResponse, Raw: raw, Err: err}
	}

	return &response, nil
}

func DecodeModels(raw []byte) ([]types.ModelInfo, error) {
	var models []types.ModelInfo
	if err := decodeDocument(raw, SchemaModels, &models); err != nil {
		return nil, err
	}

	if models == nil {
		return nil, &types.DecodeError{Schema: SchemaModels, Raw: raw, Err: fmt.Errorf("expected an array")}
	}

	return models, nil
}

func DecodeLoras(raw []byte) ([]types.LoraInfo, error) {
	var loras []types.LoraInfo
	if err := decodeDocument(raw, SchemaLoras, &loras); err != nil {
		return nil, err
	}

	if loras == nil {
		return nil, &types.DecodeError{Schema: SchemaLoras, Raw: raw, Err: fmt.Errorf("expected an array")}
	}

	return loras, nil
}

// DecodeUnit accepts empty output or any single json document.
func DecodeUnit(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var ignored json.RawMessage
	return decodeDocument(raw, SchemaUnit, &ignored)
}
