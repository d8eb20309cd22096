package validator

import (
	"context"
	"sync"
	"testing"

	"github.com/cozy-creator/genjobs/internal/services/catalog"
	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/cozy-creator/genjobs/internal/worker/workertest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadedCatalog(t *testing.T) *catalog.Service {
	t.Helper()

	fake := &workertest.Fake{
		ListModelsFunc: func(ctx context.Context) ([]types.ModelInfo, error) {
			return []types.ModelInfo{
				{Name: "sdxl", ModelType: types.ModelTypeTextToImage, Parameters: map[string]any{"width": 1024, "scheduler": "euler"}},
				{Name: "musicgen", ModelType: types.ModelTypeTextToAudio, Parameters: map[string]any{"duration": 10}},
			}, nil
		},
		ListLorasFunc: func(ctx context.Context) ([]types.LoraInfo, error) {
			return []types.LoraInfo{
				{Name: "pixel-art", ModelType: types.ModelTypeTextToImage, Strength: 0.8},
				{Name: "lofi", ModelType: types.ModelTypeTextToAudio, Strength: 1},
			}, nil
		},
	}

	service := catalog.NewService(fake, nil)
	require.NoError(t, service.Refresh(context.Background()))
	return service
}

func TestValidateAcceptsMinimalRequest(t *testing.T) {
	v := New(nil)

	payload, err := v.Validate(&types.GenerationRequest{ModelType: "text-to-image", Prompt: "a red fox"})
	require.NoError(t, err)

	id, err := uuid.Parse(payload.GenerationID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), id.Version())
	assert.Equal(t, types.ModelTypeTextToImage, payload.ModelType)
	assert.Equal(t, "a red fox", payload.Prompt)
	assert.NotNil(t, payload.Parameters)
	assert.IsType(t, &types.ImageParameters{}, payload.Typed)
}

func TestValidateRejectsBadRequests(t *testing.T) {
	v := New(nil)

	tests := []struct {
		name string
		req  *types.GenerationRequest
		want error
	}{
		{"nil request", nil, types.ErrInvalidParameters},
		{"unknown model type", &types.GenerationRequest{ModelType: "bogus", Prompt: "x"}, types.ErrInvalidModelType},
		{"empty prompt", &types.GenerationRequest{ModelType: "text-generation", Prompt: "  "}, types.ErrInvalidParameters},
		{"wrong parameter type", &types.GenerationRequest{ModelType: "text-to-audio", Prompt: "x", Parameters: map[string]any{"voice": 3}}, types.ErrInvalidParameters},
		{"width out of range", &types.GenerationRequest{ModelType: "text-to-image", Prompt: "x", Parameters: map[string]any{"width": float64(10)}}, types.ErrInvalidParameters},
		{"quality not allowed", &types.GenerationRequest{ModelType: "text-to-audio", Prompt: "x", Parameters: map[string]any{"quality": "ultra"}}, types.ErrInvalidParameters},
		{"temperature too high", &types.GenerationRequest{ModelType: "text-generation", Prompt: "x", Parameters: map[string]any{"temperature": 3.5}}, types.ErrInvalidParameters},
		{"fractional width", &types.GenerationRequest{ModelType: "text-to-image", Prompt: "x", Parameters: map[string]any{"width": 512.7}}, types.ErrInvalidParameters},
		{"fractional steps", &types.GenerationRequest{ModelType: "text-to-image", Prompt: "x", Parameters: map[string]any{"steps": 0.5}}, types.ErrInvalidParameters},
		{"seed overflows int64", &types.GenerationRequest{ModelType: "text-to-video", Prompt: "x", Parameters: map[string]any{"seed": 1e30}}, types.ErrInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := v.Validate(tt.req)
			assert.Nil(t, payload)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateReportsFieldNames(t *testing.T) {
	_, err := New(nil).Validate(&types.GenerationRequest{
		ModelType:  "text-to-video",
		Prompt:     "waves",
		Parameters: map[string]any{"fps": float64(500)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fps must satisfy max=120")
}

func TestValidateWithoutCatalogKeepsExtras(t *testing.T) {
	payload, err := New(nil).Validate(&types.GenerationRequest{
		ModelType:  "text-to-image",
		Prompt:     "a red fox",
		Parameters: map[string]any{"width": float64(512), "anything": true},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"width": float64(512), "anything": true}, payload.Parameters)
}

func TestValidateAgainstCatalog(t *testing.T) {
	v := New(loadedCatalog(t))

	payload, err := v.Validate(&types.GenerationRequest{
		ModelType:  "text-to-image",
		Prompt:     "a red fox",
		Parameters: map[string]any{"scheduler": "ddim"},
		ModelName:  "sdxl",
		LoraName:   "pixel-art",
	})
	require.NoError(t, err)
	assert.Equal(t, "ddim", payload.Parameters["scheduler"])

	tests := []struct {
		name string
		req  *types.GenerationRequest
	}{
		{"unknown model", &types.GenerationRequest{ModelType: "text-to-image", Prompt: "x", ModelName: "dalle"}},
		{"model of another type", &types.GenerationRequest{ModelType: "text-to-image", Prompt: "x", ModelName: "musicgen"}},
		{"undeclared extra", &types.GenerationRequest{ModelType: "text-to-image", Prompt: "x", Parameters: map[string]any{"tiling": true}}},
		{"extra without any model", &types.GenerationRequest{ModelType: "text-to-video", Prompt: "x", Parameters: map[string]any{"motion": 1}}},
		{"unknown lora", &types.GenerationRequest{ModelType: "text-to-image", Prompt: "x", LoraName: "anime"}},
		{"lora of another type", &types.GenerationRequest{ModelType: "text-to-image", Prompt: "x", LoraName: "lofi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.req)
			assert.ErrorIs(t, err, types.ErrInvalidParameters)
		})
	}
}

func TestValidateMintsUniqueIDs(t *testing.T) {
	v := New(nil)

	const n = 200
	ids := make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := v.Validate(&types.GenerationRequest{ModelType: "text-generation", Prompt: "hello"})
			if assert.NoError(t, err) {
				ids <- payload.GenerationID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
