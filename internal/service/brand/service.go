// Package brand manages built-in and custom brand templates.
package brand

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/logging"
	model "github.com/autobiz/abp/backend/internal/model/brand"
)

var (
	ErrNotFound     = errors.New("brand template not found")
	ErrReadOnly     = errors.New("preset brand templates are read-only")
	ErrNameRequired = errors.New("brand template name is required")
)

// Service serves presets and custom templates from memory and writes custom
// templates through to the store.
type Service struct {
	mu      sync.RWMutex
	presets map[string]model.Template
	custom  map[string]model.Template
	store   model.Store
	logger  *zap.Logger
	now     func() time.Time
}

// NewService loads presets and every readable custom template.
func NewService(store model.Store, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	presets, err := model.Presets()
	if err != nil {
		return nil, err
	}

	s := &Service{
		presets: make(map[string]model.Template, len(presets)),
		custom:  make(map[string]model.Template),
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
	for _, p := range presets {
		s.presets[p.ID] = p
	}

	custom, loadErrs := store.Load()
	for _, err := range loadErrs {
		logger.Warn("skipping unreadable brand template", zap.Error(err))
	}
	for _, t := range custom {
		if _, clash := s.presets[t.ID]; clash {
			logger.Warn("custom brand template shadows a preset, ignoring", zap.String("id", t.ID))
			continue
		}
		s.custom[t.ID] = t
	}
	return s, nil
}

// List returns templates sorted by name, optionally filtered by category.
func (s *Service) List(category string) []model.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Template, 0, len(s.presets)+len(s.custom))
	for _, group := range []map[string]model.Template{s.presets, s.custom} {
		for _, t := range group {
			if category == "" || strings.EqualFold(t.Category, category) {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get finds a template by id.
func (s *Service) Get(id string) (model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.presets[id]; ok {
		return t, nil
	}
	if t, ok := s.custom[id]; ok {
		return t, nil
	}
	return model.Template{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Categories returns the distinct categories in sorted order.
func (s *Service) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{})
	for _, group := range []map[string]model.Template{s.presets, s.custom} {
		for _, t := range group {
			set[t.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Create stores a new custom template under a fresh id.
func (s *Service) Create(ctx context.Context, t model.Template) (model.Template, error) {
	t.ID = uuid.NewString()
	t.CreatedAt = time.Time{}
	return s.Save(ctx, t)
}

// Save inserts or replaces a custom template. A template without an id is
// created; presets cannot be overwritten.
func (s *Service) Save(ctx context.Context, t model.Template) (model.Template, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return model.Template{}, ErrNameRequired
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if !model.ValidID(t.ID) {
		return model.Template{}, fmt.Errorf("%w %q", model.ErrInvalidID, t.ID)
	}
	if strings.TrimSpace(t.Category) == "" {
		t.Category = model.CustomCategory
	}
	t.Preset = false

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presets[t.ID]; ok {
		return model.Template{}, fmt.Errorf("%w: %s", ErrReadOnly, t.ID)
	}
	now := s.now().UTC()
	if existing, ok := s.custom[t.ID]; ok {
		t.CreatedAt = existing.CreatedAt
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.ModifiedAt = now

	if err := s.store.Put(t); err != nil {
		return model.Template{}, fmt.Errorf("save brand template %s: %w", t.ID, err)
	}
	s.custom[t.ID] = t
	logging.FromContextOr(ctx, s.logger).Info("brand template saved", zap.String("id", t.ID), zap.String("name", t.Name))
	return t, nil
}

// Delete removes a custom template.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presets[id]; ok {
		return fmt.Errorf("%w: %s", ErrReadOnly, id)
	}
	if _, ok := s.custom[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.store.Remove(id); err != nil {
		return err
	}
	delete(s.custom, id)
	logging.FromContextOr(ctx, s.logger).Info("brand template deleted", zap.String("id", id))
	return nil
}

// EnhancePrompt applies template id to prompt. An empty id returns the prompt
// unchanged.
func (s *Service) EnhancePrompt(id, prompt, promptType string) (string, error) {
	if id == "" {
		return prompt, nil
	}
	t, err := s.Get(id)
	if err != nil {
		return prompt, err
	}
	return t.EnhancePrompt(prompt, promptType), nil
}
