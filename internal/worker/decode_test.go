package worker

import (
	"testing"

	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeGenerationResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"success", `{"success":true,"data":{"url":"file:///out.png"},"generation_id":"abc"}`, false},
		{"failure", `{"success":false,"error":"out of memory","generation_id":"abc"}`, false},
		{"surrounding whitespace", "\n  {\"success\":false,\"error\":\"x\",\"generation_id\":\"abc\"}\n", false},
		{"data and error", `{"success":true,"data":1,"error":"x","generation_id":"abc"}`, true},
		{"neither", `{"success":true,"generation_id":"abc"}`, true},
		{"null data", `{"success":true,"data":null,"generation_id":"abc"}`, true},
		{"success flag disagrees", `{"success":false,"data":{},"generation_id":"abc"}`, true},
		{"trailing document", `{"success":false,"error":"x"} {"success":true}`, true},
		{"not json", `Traceback (most recent call last):`, true},
		{"empty", ``, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response, err := DecodeGenerationResponse([]byte(tt.raw))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "abc", response.GenerationID)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrDecode)

			var decodeErr *types.DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, SchemaGenerationResponse, decodeErr.Schema)
			assert.Equal(t, tt.raw, string(decodeErr.Raw))
		})
	}
}

func TestDecodeModels(t *testing.T) {
	models, err := DecodeModels([]byte(`[{"name":"sdxl","model_type":"text-to-image","description":"SDXL","parameters":{"width":"int"}}]`))
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, types.ModelTypeTextToImage, models[0].ModelType)
	assert.True(t, models[0].Declares("width"))

	models, err = DecodeModels([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, models)

	_, err = DecodeModels([]byte(`null`))
	assert.ErrorIs(t, err, types.ErrDecode)

	_, err = DecodeModels([]byte(`{"name":"sdxl"}`))
	assert.ErrorIs(t, err, types.ErrDecode)
}

func TestDecodeLoras(t *testing.T) {
	loras, err := DecodeLoras([]byte(`[{"name":"pixel-art","model_type":"text-to-image","strength":0.8}]`))
	require.NoError(t, err)
	require.Len(t, loras, 1)
	assert.InDelta(t, 0.8, loras[0].Strength, 1e-9)

	_, err = DecodeLoras([]byte(`[{"name":1}]`))
	assert.ErrorIs(t, err, types.ErrDecode)
}

func TestDecodeUnit(t *testing.T) {
	assert.NoError(t, DecodeUnit(nil))
	assert.NoError(t, DecodeUnit([]byte("  \n")))
	assert.NoError(t, DecodeUnit([]byte(`{"status":"ok"}`)))
	assert.ErrorIs(t, DecodeUnit([]byte("loading weights...")), types.ErrDecode)
}
