package storage

import (
	"context"
	"sync"
	"time"

	"github.com/kode4food/cascade/pkg/api"
)

// Memory is a MultipleConditionStorage held in process memory
type Memory struct {
	mu      sync.Mutex
	windows map[string]*api.MultipleConditionWindow
}

var _ api.MultipleConditionStorage = (*Memory)(nil)

// NewMemory creates an empty Memory storage
func NewMemory() *Memory {
	return &Memory{
		windows: map[string]*api.MultipleConditionWindow{},
	}
}

func (m *Memory) Get(
	_ context.Context, f *api.Flow, conditionID string,
) (*api.MultipleConditionWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[api.WindowUID(f.Namespace, f.ID, conditionID)]
	if !ok {
		return nil, nil
	}
	return w.With(nil), nil
}

// GetOrCreate returns the stored window when it is still open, otherwise a
// new unsaved window containing now
func (m *Memory) GetOrCreate(
	ctx context.Context, f *api.Flow, mc api.MultipleCondition, now time.Time,
) (*api.MultipleConditionWindow, error) {
	w, err := m.Get(ctx, f, mc.ConditionID())
	if err != nil {
		return nil, err
	}
	if w != nil && !w.IsExpired(now) && !now.Before(w.Start) {
		return w, nil
	}
	return api.NewMultipleConditionWindow(f, mc, now), nil
}

func (m *Memory) Save(
	_ context.Context, windows []*api.MultipleConditionWindow,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range windows {
		m.windows[w.UID()] = w.With(nil)
	}
	return nil
}

func (m *Memory) Delete(
	_ context.Context, w *api.MultipleConditionWindow,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, w.UID())
	return nil
}

func (m *Memory) Expired(
	_ context.Context, now time.Time,
) ([]*api.MultipleConditionWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*api.MultipleConditionWindow
	for _, w := range m.windows {
		if w.IsExpired(now) {
			res = append(res, w.With(nil))
		}
	}
	return res, nil
}
