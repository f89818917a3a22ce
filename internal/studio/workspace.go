package studio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scene-gen/internal/scene"
	"scene-gen/internal/scene/models"

	"github.com/gofiber/fiber/v3/log"
)

// ============================================================
// Workspace
// ============================================================

const (
	DefaultProjectName = "Untitled Project"
	noticeBacklog      = 50
)

// ProjectStore: хранилище сцены вместе с операциями над проектами.
type ProjectStore interface {
	scene.Store
	CreateProject(ctx context.Context, name string) (models.Project, error)
	GetProject(ctx context.Context, id int64) (models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
}

type Options struct {
	Debounce time.Duration
	Retry    scene.RetryPolicy
}

// Workspace владеет графом активного проекта и его синхронизатором.
// При смене проекта синхронизатор пересоздаётся, граф перезагружается.
type Workspace struct {
	store ProjectStore
	opts  Options
	graph *scene.Graph

	mu     sync.RWMutex
	syncer *scene.Synchronizer

	noticesMu sync.Mutex
	notices   []scene.Notice
}

func NewWorkspace(store ProjectStore, opts Options) *Workspace {
	w := &Workspace{
		store: store,
		opts:  opts,
		graph: scene.NewGraph(store, opts.Retry),
	}
	w.syncer = w.newSynchronizer()
	return w
}

func (w *Workspace) newSynchronizer() *scene.Synchronizer {
	return scene.NewSynchronizer(w.graph, scene.SyncOptions{
		Debounce: w.opts.Debounce,
		Retry:    w.opts.Retry,
		OnNotice: w.recordNotice,
	})
}

// Open активирует первый проект; если проектов нет, создаёт пустой.
func (w *Workspace) Open(ctx context.Context) (models.Project, error) {
	projects, err := w.store.ListProjects(ctx)
	if err != nil {
		return models.Project{}, fmt.Errorf("list projects: %w", err)
	}

	var project models.Project
	if len(projects) > 0 {
		project = projects[0]
	} else {
		project, err = w.store.CreateProject(ctx, DefaultProjectName)
		if err != nil {
			return models.Project{}, fmt.Errorf("create default project: %w", err)
		}
		log.Infow("default project created", "project", project.ID)
	}

	if err := w.Activate(ctx, project.ID); err != nil {
		return models.Project{}, err
	}
	return project, nil
}

// Activate дописывает отложенные трансформации текущего проекта и загружает другой.
func (w *Workspace) Activate(ctx context.Context, projectID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if current, ok := w.graph.ProjectID(); ok {
		if err := w.syncer.Flush(ctx); err != nil {
			log.Warnw("pending transforms not saved before switch", "project", current, "error", err)
		}
	}
	w.syncer.Close()
	w.syncer = w.newSynchronizer()

	if err := w.graph.LoadProject(ctx, projectID); err != nil {
		return err
	}
	return nil
}

func (w *Workspace) Graph() *scene.Graph {
	return w.graph
}

func (w *Workspace) Synchronizer() *scene.Synchronizer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.syncer
}

func (w *Workspace) Store() ProjectStore {
	return w.store
}

// ApplyTransform проводит правку через текущий синхронизатор.
func (w *Workspace) ApplyTransform(key string, patch models.TransformPatch) (models.SceneElement, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.syncer.ApplyTransform(key, patch)
}

func (w *Workspace) Flush(ctx context.Context) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.syncer.Flush(ctx)
}

// Close сохраняет всё, что успеет до ctx, и останавливает синхронизатор.
func (w *Workspace) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.syncer.Flush(ctx)
	w.syncer.Close()
	return err
}

// ============================================================
// Notices
// ============================================================

func (w *Workspace) recordNotice(n scene.Notice) {
	w.noticesMu.Lock()
	defer w.noticesMu.Unlock()
	w.notices = append(w.notices, n)
	if len(w.notices) > noticeBacklog {
		w.notices = w.notices[len(w.notices)-noticeBacklog:]
	}
}

// Notices возвращает и очищает накопленные уведомления о сохранении.
func (w *Workspace) Notices() []scene.Notice {
	w.noticesMu.Lock()
	defer w.noticesMu.Unlock()
	out := w.notices
	w.notices = nil
	return out
}
