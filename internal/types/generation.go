package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ModelType string

const (
	ModelTypeTextToImage    ModelType = "text-to-image"
	ModelTypeTextToAudio    ModelType = "text-to-audio"
	ModelTypeTextToVideo    ModelType = "text-to-video"
	ModelTypeTextGeneration ModelType = "text-generation"
)

var ModelTypes = []ModelType{
	ModelTypeTextToImage,
	ModelTypeTextToAudio,
	ModelTypeTextToVideo,
	ModelTypeTextGeneration,
}

func ParseModelType(s string) (ModelType, error) {
	for _, mt := range ModelTypes {
		if string(mt) == s {
			return mt, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidModelType, s)
}

// Request from client, no generation id yet
type GenerationRequest struct {
	ModelType  string         `json:"model_type" msgpack:"model_type"`
	Prompt     string         `json:"prompt" msgpack:"prompt"`
	Parameters map[string]any `json:"parameters" msgpack:"parameters"`
	ModelName  string         `json:"model_name,omitempty" msgpack:"model_name,omitempty"`
	LoraName   string         `json:"lora_name,omitempty" msgpack:"lora_name,omitempty"`
}

// Payload is the canonical worker-ready form of a GenerationRequest. The
// generation id is minted once by the validator and travels with the payload
// to the worker unchanged.
type Payload struct {
	GenerationID string         `json:"generation_id"`
	ModelType    ModelType      `json:"model_type"`
	Prompt       string         `json:"prompt"`
	Parameters   map[string]any `json:"parameters"`
	ModelName    string         `json:"model_name,omitempty"`
	LoraName     string         `json:"lora_name,omitempty"`

	Typed Parameters `json:"-"`
}

type GenerationResponse struct {
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
	GenerationID string          `json:"generation_id"`
}

func NewFailedResponse(generationID, message string) *GenerationResponse {
	return &GenerationResponse{
		Success:      false,
		Error:        message,
		GenerationID: generationID,
	}
}

func (r *GenerationResponse) HasData() bool {
	trimmed := bytes.TrimSpace(r.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Validate checks that exactly one of data and error is populated and that it
// agrees with the success flag.
func (r *GenerationResponse) Validate() error {
	hasData := r.HasData()
	hasError := r.Error != ""

	switch {
	case hasData && hasError:
		return fmt.Errorf("response carries both data and error")
	case !hasData && !hasError:
		return fmt.Errorf("response carries neither data nor error")
	case r.Success && !hasData:
		return fmt.Errorf("successful response without data")
	case !r.Success && !hasError:
		return fmt.Errorf("failed response without error")
	}

	return nil
}

type ModelInfo struct {
	Name        string         `json:"name"`
	ModelType   ModelType      `json:"model_type"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Declares reports whether the model's parameter schema lists key.
func (m *ModelInfo) Declares(key string) bool {
	_, ok := m.Parameters[key]
	return ok
}

type LoraInfo struct {
	Name        string    `json:"name"`
	ModelType   ModelType `json:"model_type"`
	Description string    `json:"description"`
	Strength    float64   `json:"strength"`
}
