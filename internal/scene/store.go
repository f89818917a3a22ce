package scene

import (
	"context"

	"scene-gen/internal/scene/models"
)

// ============================================================
// Entity Store
// ============================================================

// Store: доступ к внешнему хранилищу проектов, ассетов и элементов.
// Реализации сообщают apperr.NotFound, apperr.InvalidInput или apperr.Transport.
type Store interface {
	LoadProject(ctx context.Context, projectID int64) (models.ProjectSnapshot, error)
	CreateAsset(ctx context.Context, in models.NewAsset) (models.Asset, error)
	CreateElement(ctx context.Context, in models.NewElement) (models.SceneElement, error)
	UpdateElement(ctx context.Context, id int64, patch models.TransformPatch) (models.SceneElement, error)
	DeleteElement(ctx context.Context, id int64) error
}
