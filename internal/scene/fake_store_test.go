package scene

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scene-gen/internal/common/apperr"
	"scene-gen/internal/scene/models"
)

// fakeStore: хранилище в памяти с точками перехвата для тестов.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	projects map[int64]models.Project
	assets   map[int64]models.Asset
	elements map[int64]models.SceneElement
	updates  []updateCall

	loadErr   func(call int) error
	loadCalls int

	createElementHook func(ctx context.Context) error
	updateHook        func(ctx context.Context, call int, id int64, patch models.TransformPatch) error
	deleteHook        func(ctx context.Context) error
	deleteErr         error
}

type updateCall struct {
	ID    int64
	Patch models.TransformPatch
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:   100,
		projects: map[int64]models.Project{},
		assets:   map[int64]models.Asset{},
		elements: map[int64]models.SceneElement{},
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) addProject(name string) models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := models.Project{ID: s.id(), Name: name, CreatedAt: time.Now()}
	s.projects[p.ID] = p
	return p
}

func (s *fakeStore) LoadProject(_ context.Context, projectID int64) (models.ProjectSnapshot, error) {
	s.mu.Lock()
	s.loadCalls++
	call := s.loadCalls
	hook := s.loadErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(call); err != nil {
			return models.ProjectSnapshot{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return models.ProjectSnapshot{}, apperr.NotFound(fmt.Sprintf("project %d", projectID))
	}
	snap := models.ProjectSnapshot{Project: p}
	for id := int64(0); id <= s.nextID; id++ {
		if a, ok := s.assets[id]; ok && a.ProjectID == projectID {
			snap.Assets = append(snap.Assets, a)
		}
		if el, ok := s.elements[id]; ok && el.ProjectID == projectID {
			snap.Elements = append(snap.Elements, el)
		}
	}
	return snap, nil
}

func (s *fakeStore) CreateAsset(_ context.Context, in models.NewAsset) (models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[in.ProjectID]; !ok {
		return models.Asset{}, apperr.NotFound("project")
	}
	a := models.Asset{
		ID:         s.id(),
		ProjectID:  in.ProjectID,
		Category:   in.Category,
		ImageURL:   in.ImageURL,
		Attributes: in.Attributes,
		CreatedAt:  time.Now(),
	}
	s.assets[a.ID] = a
	return a, nil
}

func (s *fakeStore) CreateElement(ctx context.Context, in models.NewElement) (models.SceneElement, error) {
	s.mu.Lock()
	hook := s.createElementHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return models.SceneElement{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[in.AssetID]
	if !ok || a.ProjectID != in.ProjectID {
		return models.SceneElement{}, apperr.NotFound("asset")
	}
	el := models.SceneElement{
		ID:            s.id(),
		ProjectID:     in.ProjectID,
		AssetID:       in.AssetID,
		AssetImageURL: a.ImageURL,
		AssetCategory: a.Category,
		Transform:     in.Transform,
	}
	s.elements[el.ID] = el
	return el, nil
}

func (s *fakeStore) UpdateElement(ctx context.Context, id int64, patch models.TransformPatch) (models.SceneElement, error) {
	s.mu.Lock()
	s.updates = append(s.updates, updateCall{ID: id, Patch: patch})
	call := len(s.updates)
	hook := s.updateHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, call, id, patch); err != nil {
			return models.SceneElement{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elements[id]
	if !ok {
		return models.SceneElement{}, apperr.NotFound("scene element")
	}
	el.Transform = patch.Apply(el.Transform)
	s.elements[id] = el
	return el, nil
}

func (s *fakeStore) DeleteElement(ctx context.Context, id int64) error {
	s.mu.Lock()
	hook := s.deleteHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.elements[id]; !ok {
		return apperr.NotFound("scene element")
	}
	delete(s.elements, id)
	return nil
}

func (s *fakeStore) updateCalls() []updateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]updateCall(nil), s.updates...)
}

func (s *fakeStore) stored(id int64) (models.SceneElement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elements[id]
	return el, ok
}

func fastRetry(tries uint) RetryPolicy {
	return RetryPolicy{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}
