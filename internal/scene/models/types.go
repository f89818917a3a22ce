package models

import (
	"math"
	"time"
)

// ============================================================
// Project
// ============================================================

type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ============================================================
// Assets
// ============================================================

type Category string

const (
	CategoryFloorplan  Category = "floorplan"
	CategoryFurniture  Category = "furniture"
	CategoryDecoration Category = "decoration"
	CategoryMaterial   Category = "material"
)

// Valid проверяет, что категория из известного набора.
func (c Category) Valid() bool {
	switch c {
	case CategoryFloorplan, CategoryFurniture, CategoryDecoration, CategoryMaterial:
		return true
	}
	return false
}

type Asset struct {
	ID         int64             `json:"id"`
	ProjectID  int64             `json:"project_id"`
	Category   Category          `json:"type"`
	ImageURL   string            `json:"image_url"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewAsset описывает ассет до сохранения в хранилище.
type NewAsset struct {
	ProjectID  int64             `json:"project_id"`
	Category   Category          `json:"type"`
	ImageURL   string            `json:"imageUrl"`
	Attributes map[string]string `json:"attributes"`
}

// ============================================================
// Geometry primitives
// ============================================================

// MinScale: нижняя граница масштаба; меньшие положительные значения поднимаются до неё.
const MinScale = 0.01

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Scale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Transform struct {
	Position Point   `json:"position"`
	Rotation float64 `json:"rotation"` // degrees
	Scale    Scale   `json:"scale"`
}

// DefaultTransform: трансформация только что размещённого элемента.
func DefaultTransform(pos Point) Transform {
	return Transform{Position: pos, Rotation: 0, Scale: Scale{X: 1, Y: 1}}
}

// TransformPatch: частичное обновление, nil-поля сохраняют прежнее значение.
type TransformPatch struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
	ScaleX   *float64 `json:"scale_x,omitempty"`
	ScaleY   *float64 `json:"scale_y,omitempty"`
}

func (p TransformPatch) Empty() bool {
	return p.X == nil && p.Y == nil && p.Rotation == nil && p.ScaleX == nil && p.ScaleY == nil
}

// Merge накладывает next поверх p; поля next имеют приоритет.
func (p TransformPatch) Merge(next TransformPatch) TransformPatch {
	if next.X != nil {
		p.X = next.X
	}
	if next.Y != nil {
		p.Y = next.Y
	}
	if next.Rotation != nil {
		p.Rotation = next.Rotation
	}
	if next.ScaleX != nil {
		p.ScaleX = next.ScaleX
	}
	if next.ScaleY != nil {
		p.ScaleY = next.ScaleY
	}
	return p
}

// Normalize проверяет значения и поджимает слишком малый масштаб до MinScale.
// Возвращает false, если какое-либо поле нельзя принять.
func (p TransformPatch) Normalize() (TransformPatch, bool) {
	for _, v := range []*float64{p.X, p.Y, p.Rotation} {
		if v != nil && !finite(*v) {
			return p, false
		}
	}
	var ok bool
	if p.ScaleX, ok = clampScale(p.ScaleX); !ok {
		return p, false
	}
	if p.ScaleY, ok = clampScale(p.ScaleY); !ok {
		return p, false
	}
	return p, true
}

// Apply возвращает t с применённым патчем.
func (p TransformPatch) Apply(t Transform) Transform {
	if p.X != nil {
		t.Position.X = *p.X
	}
	if p.Y != nil {
		t.Position.Y = *p.Y
	}
	if p.Rotation != nil {
		t.Rotation = *p.Rotation
	}
	if p.ScaleX != nil {
		t.Scale.X = *p.ScaleX
	}
	if p.ScaleY != nil {
		t.Scale.Y = *p.ScaleY
	}
	return t
}

func clampScale(v *float64) (*float64, bool) {
	if v == nil {
		return nil, true
	}
	if !finite(*v) || *v <= 0 {
		return v, false
	}
	if *v < MinScale {
		clamped := MinScale
		return &clamped, true
	}
	return v, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ============================================================
// Scene elements
// ============================================================

type SaveState string

const (
	SaveStateSaved   SaveState = "saved"
	SaveStatePending SaveState = "pending"
	SaveStateUnsaved SaveState = "unsaved"
)

type SceneElement struct {
	Key           string    `json:"key"`
	ID            int64     `json:"id,omitempty"`
	ProjectID     int64     `json:"project_id"`
	AssetID       int64     `json:"asset_id"`
	AssetImageURL string    `json:"asset_image_url"`
	AssetCategory Category  `json:"asset_type"`
	Transform     Transform `json:"transform"`
	SaveState     SaveState `json:"save_state"`
}

// NewElement описывает элемент сцены до сохранения.
type NewElement struct {
	ProjectID int64
	AssetID   int64
	Transform Transform
}

// ProjectSnapshot: проект вместе с ассетами и элементами, как его отдаёт хранилище.
type ProjectSnapshot struct {
	Project  Project        `json:"project"`
	Assets   []Asset        `json:"assets"`
	Elements []SceneElement `json:"elements"`
}
