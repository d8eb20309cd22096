package validator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/cozy-creator/genjobs/internal/types"
	gpvalidator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// SchemaSource exposes the last known model and lora catalogs.
type SchemaSource interface {
	Loaded() bool
	// Model returns the named model of type mt, or the first model of that
	// type when name is empty.
	Model(mt types.ModelType, name string) (types.ModelInfo, bool)
	Lora(name string) (types.LoraInfo, bool)
}

// Validator turns a client request into a worker-ready payload. It performs no
// I/O and mints the generation id.
type Validator struct {
	schemas SchemaSource
	rules   *gpvalidator.Validate
	newID   func() string
}

func New(schemas SchemaSource) *Validator {
	rules := gpvalidator.New()
	rules.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	return &Validator{
		schemas: schemas,
		rules:   rules,
		newID:   uuid.NewString,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidParameters, fmt.Sprintf(format, args...))
}

func (v *Validator) Validate(req *types.GenerationRequest) (*types.Payload, error) {
	if req == nil {
		return nil, invalid("empty request")
	}

	mt, err := types.ParseModelType(req.ModelType)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, invalid("prompt must not be empty")
	}

	typed, err := types.DecodeParameters(mt, req.Parameters)
	if err != nil {
		return nil, err
	}

	if err := v.rules.Struct(typed); err != nil {
		var fieldErrs gpvalidator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return nil, invalid("%s", describe(fieldErrs))
		}
		return nil, invalid("%v", err)
	}

	if err := v.checkCatalog(mt, req, typed); err != nil {
		return nil, err
	}

	canonical, err := types.CanonicalParameters(typed)
	if err != nil {
		return nil, err
	}

	return &types.Payload{
		GenerationID: v.newID(),
		ModelType:    mt,
		Prompt:       req.Prompt,
		Parameters:   canonical,
		ModelName:    req.ModelName,
		LoraName:     req.LoraName,
		Typed:        typed,
	}, nil
}

func (v *Validator) checkCatalog(mt types.ModelType, req *types.GenerationRequest, typed types.Parameters) error {
	if v.schemas == nil || !v.schemas.Loaded() {
		return nil
	}

	model, found := v.schemas.Model(mt, req.ModelName)
	if !found && req.ModelName != "" {
		return invalid("unknown %s model %q", mt, req.ModelName)
	}

	extras := make([]string, 0, len(typed.Extras()))
	for key := range typed.Extras() {
		extras = append(extras, key)
	}
	sort.Strings(extras)

	for _, key := range extras {
		if !found || !model.Declares(key) {
			return invalid("parameter %q is not accepted by %s models", key, mt)
		}
	}

	if req.LoraName != "" {
		lora, ok := v.schemas.Lora(req.LoraName)
		if !ok {
			return invalid("unknown lora %q", req.LoraName)
		}
		if lora.ModelType != mt {
			return invalid("lora %q is for %s models, not %s", req.LoraName, lora.ModelType, mt)
		}
	}

	return nil
}

func describe(errs gpvalidator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
