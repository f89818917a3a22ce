package scene

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"scene-gen/internal/common/apperr"
	"scene-gen/internal/scene/models"

	"github.com/gofiber/fiber/v3/log"
	"github.com/google/uuid"
)

// ============================================================
// Scene Graph
// ============================================================

const provisionalPrefix = "tmp-"

// node: запись элемента внутри графа. Указатель стабилен на всё время жизни
// элемента, включая смену ключа и откат удаления.
type node struct {
	el      models.SceneElement
	gen     uint64
	dirty    bool // есть локальные правки, ещё не подтверждённые хранилищем
	removed  bool
	deleting bool // удаление отправлено в хранилище, ответа ещё нет
}

// Graph: единственный источник истины для активного проекта.
// Локальные мутации синхронны; вызовы хранилища выполняются вне блокировки.
type Graph struct {
	store Store
	retry RetryPolicy

	mu        sync.Mutex
	gen       uint64 // растёт при каждой загрузке проекта
	project   models.Project
	loaded    bool
	assets    []models.Asset
	floorplan int // индекс в assets или -1
	nodes     []*node
	byKey     map[string]*node
	aliases   map[string]string // provisional -> durable
	selected  string
}

func NewGraph(store Store, retry RetryPolicy) *Graph {
	return &Graph{
		store:     store,
		retry:     retry,
		floorplan: -1,
		byKey:     make(map[string]*node),
		aliases:   make(map[string]string),
	}
}

// Snapshot: согласованная копия графа для рендера и UI.
type Snapshot struct {
	Project   models.Project        `json:"project"`
	Assets    []models.Asset        `json:"assets"`
	Elements  []models.SceneElement `json:"elements"`
	Floorplan *models.Asset         `json:"floorplan,omitempty"`
	Selected  string                `json:"selected,omitempty"`
}

// LoadProject заменяет граф снимком из хранилища. Транспортные сбои повторяются.
func (g *Graph) LoadProject(ctx context.Context, projectID int64) error {
	snap, err := retry(ctx, g.retry, func() (models.ProjectSnapshot, error) {
		return g.store.LoadProject(ctx, projectID)
	}, func(err error, next time.Duration) {
		log.Warnw("load project failed, retrying", "project", projectID, "next", next, "error", err)
	})
	if err != nil {
		return fmt.Errorf("load project %d: %w", projectID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, old := range g.nodes {
		old.removed = true
	}
	g.gen++
	g.project = snap.Project
	g.loaded = true
	g.assets = append([]models.Asset(nil), snap.Assets...)
	g.floorplan = -1
	for i := range g.assets {
		g.trackFloorplan(i)
	}
	g.nodes = make([]*node, 0, len(snap.Elements))
	g.byKey = make(map[string]*node, len(snap.Elements))
	g.aliases = make(map[string]string)
	g.selected = ""
	for _, el := range snap.Elements {
		el.Key = durableKey(el.ID)
		el.SaveState = models.SaveStateSaved
		n := &node{el: el, gen: g.gen}
		g.nodes = append(g.nodes, n)
		g.byKey[el.Key] = n
	}

	log.Infow("project loaded", "project", projectID, "assets", len(g.assets), "elements", len(g.nodes))
	return nil
}

// ProjectID возвращает активный проект; ok=false, пока проект не загружен.
func (g *Graph) ProjectID() (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.project.ID, g.loaded
}

// AddAsset создаёт ассет в хранилище и добавляет его в граф.
func (g *Graph) AddAsset(ctx context.Context, in models.NewAsset) (models.Asset, error) {
	g.mu.Lock()
	projectID, gen, loaded := g.project.ID, g.gen, g.loaded
	g.mu.Unlock()
	if !loaded {
		return models.Asset{}, apperr.InvalidInput("no active project")
	}
	in.ProjectID = projectID

	asset, err := g.store.CreateAsset(ctx, in)
	if err != nil {
		return models.Asset{}, fmt.Errorf("add asset: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		// проект сменился, пока шёл запрос; ассет сохранён и появится при загрузке
		return asset, nil
	}
	g.assets = append(g.assets, asset)
	g.trackFloorplan(len(g.assets) - 1)
	return asset, nil
}

// trackFloorplan: активным фоном становится самый свежий план.
func (g *Graph) trackFloorplan(i int) {
	a := g.assets[i]
	if a.Category != models.CategoryFloorplan {
		return
	}
	if g.floorplan < 0 {
		g.floorplan = i
		return
	}
	cur := g.assets[g.floorplan]
	if !a.CreatedAt.Before(cur.CreatedAt) {
		g.floorplan = i
	}
}

// PlaceElement оптимистично размещает ассет: элемент виден сразу под временным
// ключом, после ответа хранилища получает постоянный ключ или удаляется.
func (g *Graph) PlaceElement(ctx context.Context, assetID int64, pos *models.Point) (models.SceneElement, error) {
	if pos == nil {
		return models.SceneElement{}, apperr.InvalidInput("position required")
	}
	if _, ok := (models.TransformPatch{X: &pos.X, Y: &pos.Y}).Normalize(); !ok {
		return models.SceneElement{}, apperr.InvalidInput("position must be finite")
	}

	g.mu.Lock()
	if !g.loaded {
		g.mu.Unlock()
		return models.SceneElement{}, apperr.InvalidInput("no active project")
	}
	asset, ok := g.assetLocked(assetID)
	if !ok {
		g.mu.Unlock()
		return models.SceneElement{}, apperr.NotFound(fmt.Sprintf("asset %d", assetID))
	}
	n := &node{gen: g.gen, el: models.SceneElement{
		Key:           provisionalPrefix + uuid.NewString(),
		ProjectID:     g.project.ID,
		AssetID:       asset.ID,
		AssetImageURL: asset.ImageURL,
		AssetCategory: asset.Category,
		Transform:     models.DefaultTransform(*pos),
		SaveState:     models.SaveStatePending,
	}}
	g.nodes = append(g.nodes, n)
	g.byKey[n.el.Key] = n
	req := models.NewElement{ProjectID: n.el.ProjectID, AssetID: asset.ID, Transform: n.el.Transform}
	g.mu.Unlock()

	created, err := g.store.CreateElement(ctx, req)

	g.mu.Lock()
	if n.gen != g.gen {
		// граф перезагружен во время запроса; элемент появится при следующей загрузке
		g.mu.Unlock()
		if err != nil {
			return models.SceneElement{}, fmt.Errorf("place element: %w", err)
		}
		created.Key = durableKey(created.ID)
		return created, nil
	}
	if err != nil {
		g.detachLocked(n)
		g.mu.Unlock()
		log.Warnw("place element failed, retracted", "key", n.el.Key, "asset", assetID, "error", err)
		return models.SceneElement{}, fmt.Errorf("place element: %w", err)
	}
	if n.removed {
		// удалён пользователем до подтверждения; доудаляем запись в хранилище
		g.mu.Unlock()
		if err := g.store.DeleteElement(ctx, created.ID); err != nil {
			log.Errorw("delete of retracted element failed", "id", created.ID, "error", err)
		}
		return models.SceneElement{}, apperr.NotFound(fmt.Sprintf("scene element %s was deleted", n.el.Key))
	}
	oldKey := n.el.Key
	n.el.ID = created.ID
	n.el.Key = durableKey(created.ID)
	delete(g.byKey, oldKey)
	g.byKey[n.el.Key] = n
	g.aliases[oldKey] = n.el.Key
	if g.selected == oldKey {
		g.selected = n.el.Key
	}
	if !n.dirty {
		n.el.SaveState = models.SaveStateSaved
	}
	out := n.el
	g.mu.Unlock()
	return out, nil
}

// Select выделяет элемент; прежнее выделение снимается.
func (g *Graph) Select(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.resolveLocked(key)
	if !ok {
		return apperr.NotFound(fmt.Sprintf("scene element %s", key))
	}
	g.selected = n.el.Key
	return nil
}

func (g *Graph) ClearSelection() {
	g.mu.Lock()
	g.selected = ""
	g.mu.Unlock()
}

// Selected возвращает ключ выделенного элемента или "".
func (g *Graph) Selected() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selected
}

// DeleteElement убирает элемент локально и удаляет его в хранилище;
// при сбое элемент возвращается на прежнее место.
func (g *Graph) DeleteElement(ctx context.Context, key string) error {
	g.mu.Lock()
	n, ok := g.resolveLocked(key)
	if !ok {
		g.mu.Unlock()
		return apperr.NotFound(fmt.Sprintf("scene element %s", key))
	}
	idx := g.indexLocked(n)
	wasSelected := g.selected == n.el.Key
	g.detachLocked(n)
	id := n.el.ID
	n.deleting = id != 0
	g.mu.Unlock()

	if id == 0 {
		// ещё не подтверждён; PlaceElement удалит запись после ответа хранилища
		return nil
	}

	err := g.store.DeleteElement(ctx, id)

	g.mu.Lock()
	n.deleting = false
	if err == nil {
		g.mu.Unlock()
		return nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		g.mu.Unlock()
		log.Warnw("element already absent in store", "key", n.el.Key)
		return nil
	}
	if n.gen != g.gen {
		g.mu.Unlock()
		return fmt.Errorf("delete element: %w", err)
	}
	if idx > len(g.nodes) {
		idx = len(g.nodes)
	}
	g.nodes = append(g.nodes[:idx], append([]*node{n}, g.nodes[idx:]...)...)
	g.byKey[n.el.Key] = n
	n.removed = false
	if wasSelected && g.selected == "" {
		g.selected = n.el.Key
	}
	g.mu.Unlock()

	log.Warnw("delete element failed, restored", "key", n.el.Key, "error", err)
	return fmt.Errorf("delete element: %w", err)
}

// Element возвращает копию элемента по текущему или временному ключу.
func (g *Graph) Element(key string) (models.SceneElement, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.resolveLocked(key)
	if !ok {
		return models.SceneElement{}, false
	}
	return n.el, true
}

func (g *Graph) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Snapshot{
		Project:  g.project,
		Assets:   make([]models.Asset, len(g.assets)),
		Elements: make([]models.SceneElement, len(g.nodes)),
		Selected: g.selected,
	}
	for i, a := range g.assets {
		a.Attributes = maps.Clone(a.Attributes)
		s.Assets[i] = a
	}
	for i, n := range g.nodes {
		s.Elements[i] = n.el
	}
	if g.floorplan >= 0 {
		fp := s.Assets[g.floorplan]
		s.Floorplan = &fp
	}
	return s
}

// ============================================================
// Transform hooks (Synchronizer)
// ============================================================

// applyLocal мутирует трансформацию элемента без обращения к хранилищу.
func (g *Graph) applyLocal(key string, patch models.TransformPatch) (*node, models.SceneElement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.resolveLocked(key)
	if !ok {
		return nil, models.SceneElement{}, apperr.NotFound(fmt.Sprintf("scene element %s", key))
	}
	n.el.Transform = patch.Apply(n.el.Transform)
	n.dirty = true
	return n, n.el, nil
}

type targetState int

const (
	targetLive    targetState = iota
	targetWaiting             // нет постоянного id или удаление ещё в полёте
	targetRemoved
)

// persistTarget сообщает постоянный id элемента и можно ли писать в него сейчас.
func (g *Graph) persistTarget(n *node) (id int64, key string, state targetState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case n.deleting || (!n.removed && n.el.ID == 0):
		return n.el.ID, n.el.Key, targetWaiting
	case n.removed:
		return n.el.ID, n.el.Key, targetRemoved
	}
	return n.el.ID, n.el.Key, targetLive
}

func (g *Graph) setSaveState(n *node, state models.SaveState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n.el.SaveState = state
	if state == models.SaveStateSaved {
		n.dirty = false
	}
}

// ============================================================
// Helpers
// ============================================================

func (g *Graph) resolveLocked(key string) (*node, bool) {
	if durable, ok := g.aliases[key]; ok {
		key = durable
	}
	n, ok := g.byKey[key]
	return n, ok
}

func (g *Graph) assetLocked(id int64) (models.Asset, bool) {
	for _, a := range g.assets {
		if a.ID == id {
			return a, true
		}
	}
	return models.Asset{}, false
}

func (g *Graph) indexLocked(n *node) int {
	for i, cur := range g.nodes {
		if cur == n {
			return i
		}
	}
	return len(g.nodes)
}

func (g *Graph) detachLocked(n *node) {
	if i := g.indexLocked(n); i < len(g.nodes) {
		g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
	}
	delete(g.byKey, n.el.Key)
	if g.selected == n.el.Key {
		g.selected = ""
	}
	n.removed = true
}

func durableKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
