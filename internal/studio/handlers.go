package studio

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"scene-gen/internal/common/apperr"
	"scene-gen/internal/render"
	"scene-gen/internal/scene"
	"scene-gen/internal/scene/models"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/log"
)

// ============================================================
// Studio Handler
// ============================================================

const flushTimeout = 15 * time.Second

type Handler struct {
	ws       *Workspace
	files    *FileStorage
	renderer *render.Service
}

func NewHandler(ws *Workspace, files *FileStorage, renderer *render.Service) *Handler {
	return &Handler{
		ws:       ws,
		files:    files,
		renderer: renderer,
	}
}

// Mount регистрирует маршруты студии.
func (h *Handler) Mount(r fiber.Router) {
	r.Get("/api/projects", h.ListProjects)
	r.Post("/api/projects", h.CreateProject)
	r.Get("/api/projects/:id", h.GetProject)
	r.Post("/api/projects/:id/activate", h.ActivateProject)

	r.Get("/api/scene", h.GetScene)
	r.Post("/api/scene/flush", h.FlushScene)
	r.Get("/api/notices", h.ListNotices)

	r.Post("/api/assets", h.CreateAsset)

	r.Post("/api/elements", h.PlaceElement)
	r.Patch("/api/elements/:key", h.TransformElement)
	r.Delete("/api/elements/:key", h.DeleteElement)

	r.Put("/api/selection", h.Select)
	r.Delete("/api/selection", h.ClearSelection)

	r.Post("/api/render", h.Render)

	r.Get(FilesPrefix+"/*", h.ServeFile)
}

type createProjectRequest struct {
	Name string `json:"name"`
}

type createAssetRequest struct {
	Type       models.Category   `json:"type"`
	ImageURL   string            `json:"imageUrl"`
	Attributes map[string]string `json:"attributes"`
}

type placeElementRequest struct {
	AssetID  int64         `json:"assetId"`
	Position *models.Point `json:"position"`
}

type selectRequest struct {
	Key string `json:"key"`
}

type scenePayload struct {
	scene.Snapshot
	Rendering bool `json:"rendering"`
	Unsaved   int  `json:"unsaved"`
}

type noticePayload struct {
	Key   string           `json:"key"`
	State models.SaveState `json:"state"`
	Error string           `json:"error,omitempty"`
}

// ============================================================
// Projects
// ============================================================

func (h *Handler) ListProjects(c fiber.Ctx) error {
	projects, err := h.ws.Store().ListProjects(context.Background())
	if err != nil {
		return writeError(c, err)
	}
	if projects == nil {
		projects = []models.Project{}
	}
	return c.JSON(projects)
}

func (h *Handler) CreateProject(c fiber.Ctx) error {
	var req createProjectRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, err)
	}
	project, err := h.ws.Store().CreateProject(context.Background(), req.Name)
	if err != nil {
		return writeError(c, err)
	}
	log.Infow("project created", "project", project.ID)
	return c.Status(http.StatusCreated).JSON(project)
}

// GetProject отдаёт сохранённое состояние проекта, без локальных правок.
func (h *Handler) GetProject(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	snap, err := h.ws.Store().LoadProject(context.Background(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(snap)
}

func (h *Handler) ActivateProject(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	if err := h.ws.Activate(context.Background(), id); err != nil {
		return writeError(c, err)
	}
	return h.GetScene(c)
}

// ============================================================
// Scene
// ============================================================

func (h *Handler) GetScene(c fiber.Ctx) error {
	snap := h.ws.Graph().Snapshot()
	return c.JSON(scenePayload{
		Snapshot:  snap,
		Rendering: h.renderer.InProgress(snap.Project.ID),
		Unsaved:   h.ws.Synchronizer().Unsaved(),
	})
}

func (h *Handler) FlushScene(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := h.ws.Flush(ctx); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func (h *Handler) ListNotices(c fiber.Ctx) error {
	notices := h.ws.Notices()
	out := make([]noticePayload, 0, len(notices))
	for _, n := range notices {
		p := noticePayload{Key: n.Key, State: n.State}
		if n.Err != nil {
			p.Error = n.Err.Error()
		}
		out = append(out, p)
	}
	return c.JSON(out)
}

// ============================================================
// Assets
// ============================================================

// CreateAsset принимает JSON со ссылкой на изображение или multipart с файлом.
func (h *Handler) CreateAsset(c fiber.Ctx) error {
	var (
		in  models.NewAsset
		err error
	)
	if fileHeader, ferr := c.FormFile("file"); ferr == nil {
		in, err = h.uploadAsset(c, fileHeader.Filename, fileHeader.Open)
	} else {
		var req createAssetRequest
		if err = decodeJSON(c, &req); err == nil {
			in = models.NewAsset{Category: req.Type, ImageURL: req.ImageURL, Attributes: req.Attributes}
		}
	}
	if err != nil {
		return writeError(c, err)
	}

	asset, err := h.ws.Graph().AddAsset(context.Background(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(asset)
}

func (h *Handler) uploadAsset(c fiber.Ctx, filename string, open func() (multipart.File, error)) (models.NewAsset, error) {
	category := models.Category(c.FormValue("type"))
	if !category.Valid() {
		return models.NewAsset{}, apperr.InvalidInput("unknown asset type")
	}
	attrs := map[string]string{}
	if raw := c.FormValue("attributes"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
			return models.NewAsset{}, apperr.InvalidInput("attributes must be a JSON object of strings")
		}
	}

	projectID, ok := h.ws.Graph().ProjectID()
	if !ok {
		return models.NewAsset{}, apperr.InvalidInput("no active project")
	}

	file, err := open()
	if err != nil {
		return models.NewAsset{}, apperr.InvalidInput("failed to open file")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return models.NewAsset{}, apperr.InvalidInput("failed to read file")
	}

	ref, err := h.files.SaveImage(projectID, filename, data)
	if err != nil {
		return models.NewAsset{}, err
	}
	return models.NewAsset{Category: category, ImageURL: ref, Attributes: attrs}, nil
}

// ============================================================
// Elements
// ============================================================

func (h *Handler) PlaceElement(c fiber.Ctx) error {
	var req placeElementRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, err)
	}
	el, err := h.ws.Graph().PlaceElement(context.Background(), req.AssetID, req.Position)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(el)
}

func (h *Handler) TransformElement(c fiber.Ctx) error {
	var patch models.TransformPatch
	if err := decodeJSON(c, &patch); err != nil {
		return writeError(c, err)
	}
	el, err := h.ws.ApplyTransform(c.Params("key"), patch)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(el)
}

func (h *Handler) DeleteElement(c fiber.Ctx) error {
	if err := h.ws.Graph().DeleteElement(context.Background(), c.Params("key")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func (h *Handler) Select(c fiber.Ctx) error {
	var req selectRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, err)
	}
	if req.Key == "" {
		h.ws.Graph().ClearSelection()
		return c.SendStatus(http.StatusNoContent)
	}
	if err := h.ws.Graph().Select(req.Key); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"selected": h.ws.Graph().Selected()})
}

func (h *Handler) ClearSelection(c fiber.Ctx) error {
	h.ws.Graph().ClearSelection()
	return c.SendStatus(http.StatusNoContent)
}

// ============================================================
// Render
// ============================================================

func (h *Handler) Render(c fiber.Ctx) error {
	var params render.Params
	if len(c.Body()) > 0 {
		if err := decodeJSON(c, &params); err != nil {
			return writeError(c, err)
		}
	}

	if _, ok := h.ws.Graph().ProjectID(); !ok {
		return writeError(c, apperr.InvalidInput("no active project"))
	}
	snap := h.ws.Graph().Snapshot()

	out, err := h.renderer.Render(context.Background(), snap, params)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// ============================================================
// Files
// ============================================================

func (h *Handler) ServeFile(c fiber.Ctx) error {
	path, ok := h.files.Resolve(c.Path())
	if !ok || !fileExists(path) {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "file not found"})
	}
	return c.SendFile(path)
}

// ============================================================
// Helpers
// ============================================================

func decodeJSON(c fiber.Ctx, dst any) error {
	body := c.Body()
	if len(body) == 0 {
		return apperr.InvalidInput("empty body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, "invalid json", err)
	}
	return nil
}

func paramID(c fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput("invalid " + name)
	}
	return id, nil
}

// writeError переводит код ошибки в HTTP-статус; сессия при этом не прерывается.
func writeError(c fiber.Ctx, err error) error {
	code := apperr.CodeOf(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Errorw("request failed", "method", c.Method(), "path", c.Path(), "code", code, "error", err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
