package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cozy-creator/genjobs/internal/app"
	"github.com/cozy-creator/genjobs/internal/config"
	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/cozy-creator/genjobs/internal/worker/workertest"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type errorBody struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

type jobBody struct {
	Data types.Job `json:"data"`
}

func newTestApp(t *testing.T, fake *workertest.Fake, overrides map[string]any, options ...app.OptionFunc) (*app.App, http.Handler) {
	t.Helper()

	v := viper.New()
	config.SetDefaults(v)
	v.Set("environment", "test")
	for key, value := range overrides {
		v.Set(key, value)
	}
	cfg, err := config.Load(v)
	require.NoError(t, err)

	options = append([]app.OptionFunc{app.WithTransport(fake)}, options...)
	a, err := app.NewApp(cfg, options...)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	s, err := NewServer(cfg, nil)
	require.NoError(t, err)
	s.SetupRoutes(a)

	return a, s.Handler()
}

func do(t *testing.T, handler http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func submit(t *testing.T, handler http.Handler, body string) string {
	t.Helper()

	w := do(t, handler, http.MethodPost, "/api/v1/generate", []byte(body), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	resp := decode[struct {
		GenerationID string          `json:"generation_id"`
		Status       types.JobStatus `json:"status"`
	}](t, w)
	assert.Equal(t, types.JobStatusSubmitted, resp.Status)
	return resp.GenerationID
}

func wait(t *testing.T, a *app.App, id string) types.Job {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := a.Orchestrator().Wait(ctx, id)
	require.NoError(t, err)
	return job
}

func TestHealthz(t *testing.T) {
	_, handler := newTestApp(t, &workertest.Fake{}, nil)

	w := do(t, handler, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGenerateAndStatus(t *testing.T) {
	a, handler := newTestApp(t, &workertest.Fake{}, nil)

	id := submit(t, handler, `{"model_type":"text-to-image","prompt":"a red fox","parameters":{"width":512}}`)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	wait(t, a, id)

	w := do(t, handler, http.MethodGet, "/api/v1/jobs/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	job := decode[jobBody](t, w).Data
	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.Equal(t, "a red fox", job.Prompt)
	require.NotNil(t, job.Result)
	assert.True(t, job.Result.Success)

	w = do(t, handler, http.MethodGet, "/api/v1/jobs", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	jobs := decode[struct {
		Data []types.Job `json:"data"`
	}](t, w).Data
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].GenerationID)
}

func TestGenerateMsgPack(t *testing.T) {
	a, handler := newTestApp(t, &workertest.Fake{}, nil)

	body, err := msgpack.Marshal(&types.GenerationRequest{ModelType: "text-generation", Prompt: "hello"})
	require.NoError(t, err)

	w := do(t, handler, http.MethodPost, "/api/v1/generate", body, "application/msgpack")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	id := decode[map[string]string](t, w)["generation_id"]
	assert.Equal(t, types.JobStatusCompleted, wait(t, a, id).Status)
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	fake := &workertest.Fake{}
	_, handler := newTestApp(t, fake, nil)

	tests := []struct {
		name        string
		body        string
		contentType string
		code        int
		kind        string
	}{
		{"unknown model type", `{"model_type":"bogus","prompt":"x"}`, "application/json", http.StatusBadRequest, types.KindInvalidModelType},
		{"empty prompt", `{"model_type":"text-to-image","prompt":""}`, "application/json", http.StatusBadRequest, types.KindInvalidParameters},
		{"bad parameter", `{"model_type":"text-to-image","prompt":"x","parameters":{"width":-1}}`, "application/json", http.StatusBadRequest, types.KindInvalidParameters},
		{"malformed json", `{"model_type":`, "application/json", http.StatusBadRequest, types.KindInvalidParameters},
		{"unsupported content type", `model_type=text-to-image`, "text/plain", http.StatusUnsupportedMediaType, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, handler, http.MethodPost, "/api/v1/generate", []byte(tt.body), tt.contentType)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.kind, decode[errorBody](t, w).Kind)
		})
	}

	assert.Equal(t, 0, fake.TotalCalls())
}

func TestJobErrors(t *testing.T) {
	_, handler := newTestApp(t, &workertest.Fake{}, nil)

	w := do(t, handler, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	unknown := uuid.NewString()
	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/jobs/" + unknown},
		{http.MethodPost, "/api/v1/jobs/" + unknown + "/cancel"},
		{http.MethodDelete, "/api/v1/jobs/" + unknown},
		{http.MethodGet, "/api/v1/jobs/" + unknown + "/events"},
	} {
		w := do(t, handler, req.method, req.path, nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code, req.path)
		assert.Equal(t, types.KindUnknownJob, decode[errorBody](t, w).Kind)
	}
}

func TestCancelAndAcknowledge(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	a, handler := newTestApp(t, &workertest.Fake{GenerateFunc: workertest.Block(release)}, nil)
	id := submit(t, handler, `{"model_type":"text-to-video","prompt":"waves"}`)

	w := do(t, handler, http.MethodDelete, "/api/v1/jobs/"+id, nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, types.KindJobNotTerminal, decode[errorBody](t, w).Kind)

	w = do(t, handler, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.JobStatusCancelled, decode[jobBody](t, w).Data.Status)
	assert.Equal(t, types.JobStatusCancelled, wait(t, a, id).Status)

	w = do(t, handler, http.MethodDelete, "/api/v1/jobs/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, a.Orchestrator().Jobs())
}

func TestCatalogRoutes(t *testing.T) {
	fake := &workertest.Fake{
		ListModelsFunc: func(ctx context.Context) ([]types.ModelInfo, error) {
			return []types.ModelInfo{{Name: "sdxl", ModelType: types.ModelTypeTextToImage}}, nil
		},
		ListLorasFunc: func(ctx context.Context) ([]types.LoraInfo, error) {
			return nil, &types.TransportError{Subcommand: "list-loras", Err: context.DeadlineExceeded}
		},
		InitFunc: func(ctx context.Context) error {
			return &types.WorkerError{Subcommand: "init", ExitCode: 2, Message: "no gpu"}
		},
	}
	_, handler := newTestApp(t, fake, nil)

	w := do(t, handler, http.MethodGet, "/api/v1/models", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	models := decode[struct {
		Data []types.ModelInfo `json:"data"`
	}](t, w).Data
	require.Len(t, models, 1)
	assert.Equal(t, "sdxl", models[0].Name)

	w = do(t, handler, http.MethodGet, "/api/v1/loras", nil, "")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, types.KindTransportFailure, decode[errorBody](t, w).Kind)

	w = do(t, handler, http.MethodPost, "/api/v1/init", nil, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, types.KindWorkerError, body.Kind)
	assert.Contains(t, body.Message, "no gpu")
}

func readEvents(t *testing.T, body string) []types.Job {
	t.Helper()

	var jobs []types.Job
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}

		var job types.Job
		require.NoError(t, json.Unmarshal([]byte(data), &job))
		jobs = append(jobs, job)
	}

	return jobs
}

func TestStreamEvents(t *testing.T) {
	release := make(chan struct{})
	a, handler := newTestApp(t, &workertest.Fake{GenerateFunc: workertest.Block(release)}, nil, app.WithMQ())

	srv := httptest.NewServer(handler)
	defer srv.Close()

	id := submit(t, handler, `{"model_type":"text-to-audio","prompt":"rain"}`)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	close(release)
	wait(t, a, id)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	jobs := readEvents(t, buf.String())
	require.NotEmpty(t, jobs)
	for i := 1; i < len(jobs); i++ {
		assert.True(t, jobs[i-1].Status.CanAdvanceTo(jobs[i].Status), "%s -> %s", jobs[i-1].Status, jobs[i].Status)
	}
	last := jobs[len(jobs)-1]
	assert.Equal(t, types.JobStatusCompleted, last.Status)
	assert.Equal(t, id, last.GenerationID)
}

func TestStreamEventsWithoutMQ(t *testing.T) {
	a, handler := newTestApp(t, &workertest.Fake{}, nil)

	id := submit(t, handler, `{"model_type":"text-to-image","prompt":"x"}`)
	wait(t, a, id)

	w := do(t, handler, http.MethodGet, "/api/v1/jobs/"+id+"/events", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	jobs := readEvents(t, w.Body.String())
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobStatusCompleted, jobs[0].Status)
}

func TestHistoryRoutes(t *testing.T) {
	_, handler := newTestApp(t, &workertest.Fake{}, nil)
	w := do(t, handler, http.MethodGet, "/api/v1/history", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	a, handler := newTestApp(t, &workertest.Fake{}, map[string]any{
		"db.driver": "sqlite",
		"db.dsn":    "file:routes_test?mode=memory&cache=shared",
	}, app.WithDBInitialization())

	id := submit(t, handler, `{"model_type":"text-to-image","prompt":"a red fox"}`)
	wait(t, a, id)

	require.Eventually(t, func() bool {
		w := do(t, handler, http.MethodGet, "/api/v1/history/"+id, nil, "")
		if w.Code != http.StatusOK {
			return false
		}
		var body struct {
			Data struct {
				Status types.JobStatus `json:"status"`
			} `json:"data"`
		}
		return json.Unmarshal(w.Body.Bytes(), &body) == nil && body.Data.Status == types.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	w = do(t, handler, http.MethodGet, "/api/v1/history?limit=10", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[struct {
		Data []map[string]any `json:"data"`
	}](t, w).Data
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0]["generation_id"])
	assert.NotEmpty(t, entries[0]["input_hash"])

	hash := entries[0]["input_hash"].(string)
	again := submit(t, handler, `{"model_type":"text-to-image","prompt":"a red fox"}`)
	wait(t, a, again)
	submit(t, handler, `{"model_type":"text-to-image","prompt":"a grey wolf"}`)

	require.Eventually(t, func() bool {
		w := do(t, handler, http.MethodGet, "/api/v1/history?input_hash="+hash, nil, "")
		if w.Code != http.StatusOK {
			return false
		}
		var body struct {
			Data []map[string]any `json:"data"`
		}
		return json.Unmarshal(w.Body.Bytes(), &body) == nil && len(body.Data) == 2
	}, 5*time.Second, 20*time.Millisecond)

	w = do(t, handler, http.MethodGet, "/api/v1/history?input_hash=unknown", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[struct {
		Data []map[string]any `json:"data"`
	}](t, w).Data)

	w = do(t, handler, http.MethodGet, "/api/v1/history?limit=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, handler, http.MethodGet, "/api/v1/history/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenerateAfterClose(t *testing.T) {
	a, handler := newTestApp(t, &workertest.Fake{}, nil)
	a.Close()

	w := do(t, handler, http.MethodPost, "/api/v1/generate", []byte(`{"model_type":"text-to-image","prompt":"x"}`), "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, types.KindRegistryClosed, decode[errorBody](t, w).Kind)
}
