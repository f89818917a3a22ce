package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scene-gen/internal/common/apperr"
	"scene-gen/internal/scene/models"

	"github.com/gofiber/fiber/v3/log"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed schema.sql
var schema string

// ============================================================
// SQLite Repository
// ============================================================

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Init применяет схему. Повторный вызов безопасен.
func (r *Repository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ============================================================
// Projects
// ============================================================

func (r *Repository) CreateProject(ctx context.Context, name string) (models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Project{}, apperr.InvalidInput("project name required")
	}

	now := r.now()
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO projects (name, created_at, updated_at)
        VALUES (?, ?, ?)
    `, name, formatTime(now), formatTime(now))
	if err != nil {
		return models.Project{}, storeErr("insert project", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Project{}, storeErr("project id", err)
	}
	return models.Project{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

func (r *Repository) GetProject(ctx context.Context, id int64) (models.Project, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT id, name, created_at, updated_at
        FROM projects
        WHERE id = ?
    `, id)

	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Project{}, apperr.NotFound(fmt.Sprintf("project %d", id))
		}
		return models.Project{}, storeErr("get project", err)
	}
	return p, nil
}

func (r *Repository) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, name, created_at, updated_at
        FROM projects
        ORDER BY id
    `)
	if err != nil {
		return nil, storeErr("list projects", err)
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, storeErr("scan project", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list projects", err)
	}
	return out, nil
}

// LoadProject читает проект вместе с ассетами и элементами сцены.
// Элементы обогащаются картинкой и категорией своего ассета.
func (r *Repository) LoadProject(ctx context.Context, id int64) (models.ProjectSnapshot, error) {
	project, err := r.GetProject(ctx, id)
	if err != nil {
		return models.ProjectSnapshot{}, err
	}
	assets, err := r.listAssets(ctx, id)
	if err != nil {
		return models.ProjectSnapshot{}, err
	}
	elements, err := r.listElements(ctx, id)
	if err != nil {
		return models.ProjectSnapshot{}, err
	}
	return models.ProjectSnapshot{Project: project, Assets: assets, Elements: elements}, nil
}

// ============================================================
// Assets
// ============================================================

func (r *Repository) CreateAsset(ctx context.Context, in models.NewAsset) (models.Asset, error) {
	if !in.Category.Valid() {
		return models.Asset{}, apperr.InvalidInput(fmt.Sprintf("unknown asset type %q", in.Category))
	}
	if strings.TrimSpace(in.ImageURL) == "" {
		return models.Asset{}, apperr.InvalidInput("image url required")
	}
	if _, err := r.GetProject(ctx, in.ProjectID); err != nil {
		return models.Asset{}, err
	}

	attrs := in.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return models.Asset{}, apperr.Wrap(apperr.CodeInvalidInput, "encode attributes", err)
	}

	now := r.now()
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO assets (project_id, type, image_url, attributes_json, created_at)
        VALUES (?, ?, ?, ?, ?)
    `, in.ProjectID, string(in.Category), in.ImageURL, string(attrsJSON), formatTime(now))
	if err != nil {
		return models.Asset{}, storeErr("insert asset", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Asset{}, storeErr("asset id", err)
	}
	r.touchProject(ctx, in.ProjectID, now)

	return models.Asset{
		ID:         id,
		ProjectID:  in.ProjectID,
		Category:   in.Category,
		ImageURL:   in.ImageURL,
		Attributes: attrs,
		CreatedAt:  now,
	}, nil
}

func (r *Repository) listAssets(ctx context.Context, projectID int64) ([]models.Asset, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, project_id, type, image_url, attributes_json, created_at
        FROM assets
        WHERE project_id = ?
        ORDER BY created_at, id
    `, projectID)
	if err != nil {
		return nil, storeErr("list assets", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		var (
			a         models.Asset
			category  string
			attrsJSON string
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.ProjectID, &category, &a.ImageURL, &attrsJSON, &createdAt); err != nil {
			return nil, storeErr("scan asset", err)
		}
		a.Category = models.Category(category)
		a.Attributes = map[string]string{}
		if attrsJSON != "" {
			if err := json.Unmarshal([]byte(attrsJSON), &a.Attributes); err != nil {
				return nil, storeErr("decode attributes", err)
			}
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list assets", err)
	}
	return out, nil
}

// ============================================================
// Scene Elements
// ============================================================

func (r *Repository) CreateElement(ctx context.Context, in models.NewElement) (models.SceneElement, error) {
	if in.AssetID == 0 {
		return models.SceneElement{}, apperr.InvalidInput("asset id required")
	}

	var assetProject int64
	err := r.db.QueryRowContext(ctx, `SELECT project_id FROM assets WHERE id = ?`, in.AssetID).Scan(&assetProject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SceneElement{}, apperr.NotFound(fmt.Sprintf("asset %d", in.AssetID))
		}
		return models.SceneElement{}, storeErr("get asset", err)
	}
	if assetProject != in.ProjectID {
		return models.SceneElement{}, apperr.NotFound(fmt.Sprintf("asset %d in project %d", in.AssetID, in.ProjectID))
	}

	t := in.Transform
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO scene_elements (project_id, asset_id, position_x, position_y, rotation_z, scale_x, scale_y, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, in.ProjectID, in.AssetID, t.Position.X, t.Position.Y, t.Rotation, t.Scale.X, t.Scale.Y, formatTime(now), formatTime(now))
	if err != nil {
		return models.SceneElement{}, storeErr("insert element", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.SceneElement{}, storeErr("element id", err)
	}
	r.touchProject(ctx, in.ProjectID, now)
	return r.getElement(ctx, id)
}

// UpdateElement применяет частичное обновление: NULL-параметры сохраняют значения столбцов.
func (r *Repository) UpdateElement(ctx context.Context, id int64, patch models.TransformPatch) (models.SceneElement, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE scene_elements SET
            position_x = COALESCE(?, position_x),
            position_y = COALESCE(?, position_y),
            rotation_z = COALESCE(?, rotation_z),
            scale_x = COALESCE(?, scale_x),
            scale_y = COALESCE(?, scale_y),
            updated_at = ?
        WHERE id = ?
    `, patch.X, patch.Y, patch.Rotation, patch.ScaleX, patch.ScaleY, formatTime(r.now()), id)
	if err != nil {
		return models.SceneElement{}, storeErr("update element", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.SceneElement{}, apperr.NotFound(fmt.Sprintf("scene element %d", id))
	}
	return r.getElement(ctx, id)
}

func (r *Repository) DeleteElement(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scene_elements WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete element", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete element", err)
	}
	if n == 0 {
		return apperr.NotFound(fmt.Sprintf("scene element %d", id))
	}
	return nil
}

const elementColumns = `
    e.id, e.project_id, e.asset_id, a.image_url, a.type,
    e.position_x, e.position_y, e.rotation_z, e.scale_x, e.scale_y`

func (r *Repository) getElement(ctx context.Context, id int64) (models.SceneElement, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT`+elementColumns+`
        FROM scene_elements e
        JOIN assets a ON a.id = e.asset_id
        WHERE e.id = ?
    `, id)
	el, err := scanElement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SceneElement{}, apperr.NotFound(fmt.Sprintf("scene element %d", id))
		}
		return models.SceneElement{}, storeErr("get element", err)
	}
	return el, nil
}

func (r *Repository) listElements(ctx context.Context, projectID int64) ([]models.SceneElement, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT`+elementColumns+`
        FROM scene_elements e
        JOIN assets a ON a.id = e.asset_id
        WHERE e.project_id = ?
        ORDER BY e.id
    `, projectID)
	if err != nil {
		return nil, storeErr("list elements", err)
	}
	defer rows.Close()

	var out []models.SceneElement
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, storeErr("scan element", err)
		}
		out = append(out, el)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list elements", err)
	}
	return out, nil
}

// ============================================================
// Helpers
// ============================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (models.Project, error) {
	var (
		p                    models.Project
		createdAt, updatedAt string
	)
	if err := s.Scan(&p.ID, &p.Name, &createdAt, &updatedAt); err != nil {
		return models.Project{}, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func scanElement(s scanner) (models.SceneElement, error) {
	var (
		el       models.SceneElement
		category string
		t        models.Transform
	)
	if err := s.Scan(&el.ID, &el.ProjectID, &el.AssetID, &el.AssetImageURL, &category,
		&t.Position.X, &t.Position.Y, &t.Rotation, &t.Scale.X, &t.Scale.Y); err != nil {
		return models.SceneElement{}, err
	}
	el.AssetCategory = models.Category(category)
	el.Transform = t
	el.SaveState = models.SaveStateSaved
	return el, nil
}

// touchProject сдвигает updated_at проекта. Ошибка только логируется,
// основная запись к этому моменту уже сохранена.
func (r *Repository) touchProject(ctx context.Context, id int64, at time.Time) {
	if _, err := r.db.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, formatTime(at), id); err != nil {
		log.Warnw("project updated_at not refreshed", "project", id, "error", err)
	}
}

// storeErr: для вызывающей стороны любой сбой драйвера считается транспортной ошибкой хранилища.
func storeErr(op string, err error) error {
	return apperr.Transport(op, err)
}

// timeLayout фиксированной ширины, чтобы строки сортировались хронологически.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// OpenSQLite открывает sqlite по указанному пути.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
