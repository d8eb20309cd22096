package catalog

import (
	"context"
	"sync"

	"github.com/cozy-creator/genjobs/internal/types"
	"github.com/cozy-creator/genjobs/internal/worker"
	"go.uber.org/zap"
)

// Service proxies catalog queries to the worker and keeps the last successful
// answers as a snapshot for request validation.
type Service struct {
	transport worker.Transport
	logger    *zap.Logger

	mu           sync.RWMutex
	models       []types.ModelInfo
	loras        []types.LoraInfo
	modelsLoaded bool
	lorasLoaded  bool
}

func NewService(transport worker.Transport, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{transport: transport, logger: logger}
}

func (s *Service) ListModels(ctx context.Context) ([]types.ModelInfo, error) {
	models, err := s.transport.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.models = models
	s.modelsLoaded = true
	s.mu.Unlock()

	s.logger.Debug("model catalog refreshed", zap.Int("models", len(models)))
	return models, nil
}

func (s *Service) ListLoras(ctx context.Context) ([]types.LoraInfo, error) {
	loras, err := s.transport.ListLoras(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.loras = loras
	s.lorasLoaded = true
	s.mu.Unlock()

	s.logger.Debug("lora catalog refreshed", zap.Int("loras", len(loras)))
	return loras, nil
}

// Refresh reloads both lists.
func (s *Service) Refresh(ctx context.Context) error {
	if _, err := s.ListModels(ctx); err != nil {
		return err
	}

	_, err := s.ListLoras(ctx)
	return err
}

// Loaded reports whether both lists have been fetched at least once.
func (s *Service) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.modelsLoaded && s.lorasLoaded
}

func (s *Service) Model(mt types.ModelType, name string) (types.ModelInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, model := range s.models {
		if model.ModelType != mt {
			continue
		}
		if name == "" || model.Name == name {
			return model, true
		}
	}

	return types.ModelInfo{}, false
}

func (s *Service) Lora(name string) (types.LoraInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, lora := range s.loras {
		if lora.Name == name {
			return lora, true
		}
	}

	return types.LoraInfo{}, false
}
