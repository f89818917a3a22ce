package prompt

import (
	"fmt"
	"maps"
	"math"
	"sort"
	"strconv"
	"strings"

	"scene-gen/internal/scene"
	"scene-gen/internal/scene/models"
)

// ============================================================
// Prompt Orchestrator
// ============================================================

const (
	DefaultStyle           = "Photorealistic, Modern"
	DefaultCameraAngle     = "eye-level"
	DefaultCameraDirection = "north"
)

const (
	ImageFloorplan = "floorplan"
	ImageAsset     = "asset"
)

const requirements = `Rendering requirements:
- Realistic lighting with natural light from windows and soft shadows
- High resolution output with sharp, clean details
- Photorealistic materials and textures
- Correct real-world scale and proportions for every object`

type Camera struct {
	Angle     string `json:"angle"`
	Direction string `json:"direction"`
}

// Placement: размещённый элемент в том виде, в каком он попадает в промпт.
type Placement struct {
	Category   models.Category   `json:"category"`
	ImageURL   string            `json:"imageUrl"`
	Position   models.Point      `json:"position"`
	Rotation   float64           `json:"rotation"`
	Scale      models.Scale      `json:"scale"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type Input struct {
	FloorplanURL string      `json:"floorplanUrl,omitempty"`
	Placements   []Placement `json:"placements"`
	Camera       Camera      `json:"camera"`
	Style        string      `json:"style"`
}

// Image: вспомогательное изображение, прикладываемое к промпту.
type Image struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// Request: готовый запрос к сервису генерации. Input хранит исходные
// параметры без подстановки значений по умолчанию.
type Request struct {
	Prompt string  `json:"prompt"`
	Style  string  `json:"style"`
	Camera Camera  `json:"camera"`
	Images []Image `json:"images"`
	Input  Input   `json:"input"`
}

// Build детерминированно собирает промпт: одинаковый вход даёт
// побайтно одинаковый текст.
func Build(in Input) Request {
	style := strings.TrimSpace(in.Style)
	if style == "" {
		style = DefaultStyle
	}
	camera := in.Camera
	if strings.TrimSpace(camera.Angle) == "" {
		camera.Angle = DefaultCameraAngle
	}
	if strings.TrimSpace(camera.Direction) == "" {
		camera.Direction = DefaultCameraDirection
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Render an interior design scene in the %s style.\n", style)
	fmt.Fprintf(&b, "Camera: %s view facing %s.\n\n", camera.Angle, camera.Direction)

	b.WriteString("Room layout:\n")
	if in.FloorplanURL != "" {
		b.WriteString("Base the room layout on the attached floorplan image, keeping walls, doors and windows where it shows them.\n\n")
	} else {
		b.WriteString("Create a reasonable room layout that suits the furniture described below.\n\n")
	}

	b.WriteString("Furniture and assets:\n")
	if len(in.Placements) == 0 {
		b.WriteString("Include appropriate furniture for the room.\n")
	}
	for i, p := range in.Placements {
		b.WriteString(placementLine(i+1, p))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(requirements)

	return Request{
		Prompt: b.String(),
		Style:  style,
		Camera: camera,
		Images: images(in),
		Input:  cloneInput(in),
	}
}

func placementLine(n int, p Placement) string {
	line := fmt.Sprintf("%d. Place furniture at position (%s, %s)", n, formatFloat(p.Position.X), formatFloat(p.Position.Y))
	if p.Rotation != 0 {
		line += fmt.Sprintf(" with %s degree rotation", formatDelta(p.Rotation, 0))
	}
	if p.Scale.X != 1 {
		line += fmt.Sprintf(" scaled to %sx", formatDelta(p.Scale.X, 1))
	}
	if details := placementDetails(p); details != "" {
		line += " (" + details + ")"
	}
	return line
}

// placementDetails: категория, если это не мебель, и атрибуты ассета.
func placementDetails(p Placement) string {
	parts := make([]string, 0, 2)
	if p.Category != "" && p.Category != models.CategoryFurniture {
		parts = append(parts, "type: "+string(p.Category))
	}
	if attrs := formatAttributes(p.Attributes); attrs != "" {
		parts = append(parts, attrs)
	}
	return strings.Join(parts, ", ")
}

func formatAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := strings.TrimSpace(attrs[k]); v != "" {
			parts = append(parts, k+": "+v)
		}
	}
	return strings.Join(parts, ", ")
}

// images: сначала план, затем ассеты элементов в порядке размещения.
func images(in Input) []Image {
	out := make([]Image, 0, len(in.Placements)+1)
	if in.FloorplanURL != "" {
		out = append(out, Image{Kind: ImageFloorplan, URL: in.FloorplanURL})
	}
	for _, p := range in.Placements {
		if p.ImageURL != "" {
			out = append(out, Image{Kind: ImageAsset, URL: p.ImageURL})
		}
	}
	return out
}

func cloneInput(in Input) Input {
	out := in
	out.Placements = make([]Placement, len(in.Placements))
	for i, p := range in.Placements {
		p.Attributes = maps.Clone(p.Attributes)
		out.Placements[i] = p
	}
	return out
}

// ============================================================
// Snapshot adapter
// ============================================================

// FromSnapshot переводит снимок графа во вход оркестратора.
func FromSnapshot(snap scene.Snapshot, camera Camera, style string) Input {
	attrs := make(map[int64]map[string]string, len(snap.Assets))
	for _, a := range snap.Assets {
		attrs[a.ID] = a.Attributes
	}

	in := Input{
		Camera:     camera,
		Style:      style,
		Placements: make([]Placement, 0, len(snap.Elements)),
	}
	if snap.Floorplan != nil {
		in.FloorplanURL = snap.Floorplan.ImageURL
	}
	for _, el := range snap.Elements {
		in.Placements = append(in.Placements, Placement{
			Category:   el.AssetCategory,
			ImageURL:   el.AssetImageURL,
			Position:   el.Transform.Position,
			Rotation:   el.Transform.Rotation,
			Scale:      el.Transform.Scale,
			Attributes: attrs[el.AssetID],
		})
	}
	return in
}

// ============================================================
// Helpers
// ============================================================

// round обрезает шум перетаскивания до сотых.
func round(v float64) float64 {
	return math.Round(v*100) / 100
}

// formatDelta печатает значение, отличное от neutral, так, чтобы округление
// не превратило его в neutral.
func formatDelta(v, neutral float64) string {
	if round(v) == neutral {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return formatFloat(v)
}

func formatFloat(v float64) string {
	v = round(v)
	if v == 0 {
		v = 0 // -0 печатается как "-0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
