package types

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Parameters is the typed form of a request's parameter bag. There is one
// variant per model type; keys that no typed field claims are kept in Extra.
type Parameters interface {
	ModelType() ModelType
	Extras() map[string]any
}

type ImageParameters struct {
	Width          int      `mapstructure:"width" json:"width,omitempty" validate:"omitempty,min=64,max=4096"`
	Height         int      `mapstructure:"height" json:"height,omitempty" validate:"omitempty,min=64,max=4096"`
	Steps          int      `mapstructure:"steps" json:"steps,omitempty" validate:"omitempty,min=1,max=500"`
	GuidanceScale  *float64 `mapstructure:"guidance_scale" json:"guidance_scale,omitempty" validate:"omitempty,gte=0,lte=50"`
	NegativePrompt string   `mapstructure:"negative_prompt" json:"negative_prompt,omitempty"`
	Seed           *int64   `mapstructure:"seed" json:"seed,omitempty"`
	LoraStrength   *float64 `mapstructure:"lora_strength" json:"lora_strength,omitempty" validate:"omitempty,gte=0,lte=2"`

	Extra map[string]any `mapstructure:",remain" json:"-"`
}

func (*ImageParameters) ModelType() ModelType     { return ModelTypeTextToImage }
func (p *ImageParameters) Extras() map[string]any { return p.Extra }

type AudioParameters struct {
	Voice   string   `mapstructure:"voice" json:"voice,omitempty"`
	Speed   *float64 `mapstructure:"speed" json:"speed,omitempty" validate:"omitempty,gt=0,lte=4"`
	Quality string   `mapstructure:"quality" json:"quality,omitempty" validate:"omitempty,oneof=low medium high"`

	Extra map[string]any `mapstructure:",remain" json:"-"`
}

func (*AudioParameters) ModelType() ModelType     { return ModelTypeTextToAudio }
func (p *AudioParameters) Extras() map[string]any { return p.Extra }

type VideoParameters struct {
	Width  int    `mapstructure:"width" json:"width,omitempty" validate:"omitempty,min=64,max=4096"`
	Height int    `mapstructure:"height" json:"height,omitempty" validate:"omitempty,min=64,max=4096"`
	Frames int    `mapstructure:"frames" json:"frames,omitempty" validate:"omitempty,min=1,max=1000"`
	FPS    int    `mapstructure:"fps" json:"fps,omitempty" validate:"omitempty,min=1,max=120"`
	Seed   *int64 `mapstructure:"seed" json:"seed,omitempty"`

	Extra map[string]any `mapstructure:",remain" json:"-"`
}

func (*VideoParameters) ModelType() ModelType     { return ModelTypeTextToVideo }
func (p *VideoParameters) Extras() map[string]any { return p.Extra }

type TextParameters struct {
	MaxTokens   int      `mapstructure:"max_tokens" json:"max_tokens,omitempty" validate:"omitempty,min=1,max=131072"`
	Temperature *float64 `mapstructure:"temperature" json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP        *float64 `mapstructure:"top_p" json:"top_p,omitempty" validate:"omitempty,gt=0,lte=1"`
	Stop        []string `mapstructure:"stop" json:"stop,omitempty"`

	Extra map[string]any `mapstructure:",remain" json:"-"`
}

func (*TextParameters) ModelType() ModelType     { return ModelTypeTextGeneration }
func (p *TextParameters) Extras() map[string]any { return p.Extra }

func newParameters(mt ModelType) (Parameters, error) {
	switch mt {
	case ModelTypeTextToImage:
		return &ImageParameters{}, nil
	case ModelTypeTextToAudio:
		return &AudioParameters{}, nil
	case ModelTypeTextToVideo:
		return &VideoParameters{}, nil
	case ModelTypeTextGeneration:
		return &TextParameters{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidModelType, mt)
}

// DecodeParameters decodes an open parameter map into the variant for mt.
func DecodeParameters(mt ModelType, raw map[string]any) (Parameters, error) {
	params, err := newParameters(mt)
	if err != nil {
		return nil, err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           params,
		TagName:          "mapstructure",
		WeaklyTypedInput: false,
		DecodeHook:       exactIntHook,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create parameter decoder: %w", err)
	}

	if raw == nil {
		raw = map[string]any{}
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	return params, nil
}

// exactIntHook only lets a float reach an integer field when it holds a whole
// number the field can represent. JSON numbers arrive as float64, and the
// decoder would otherwise truncate 512.7 to 512.
func exactIntHook(from, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return data, nil
	}

	var f float64
	switch from.Kind() {
	case reflect.Float64, reflect.Float32:
		f = reflect.ValueOf(data).Float()
	default:
		return data, nil
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, fmt.Errorf("%v is not an integer", data)
	}

	limit := math.Ldexp(1, to.Bits()-1)
	if f < -limit || f >= limit {
		return nil, fmt.Errorf("%v overflows %s", data, to.Kind())
	}

	return int64(f), nil
}

// CanonicalParameters flattens a typed variant back into the map the worker
// receives. Typed fields win over extras with the same key.
func CanonicalParameters(params Parameters) (map[string]any, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameters: %w", err)
	}

	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
	}

	for k, v := range params.Extras() {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}

	return out, nil
}
