package studio

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
)

// ============================================================
// Health Check Handlers
// ============================================================

const readinessTimeout = 2 * time.Second

// Pinger: зависимость, доступность которой проверяет readiness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Health struct {
	db Pinger
	ws *Workspace
}

func NewHealth(db Pinger, ws *Workspace) *Health {
	return &Health{db: db, ws: ws}
}

func (h *Health) Mount(r fiber.Router) {
	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)
}

// Liveness проверяет, что процесс отвечает
func (h *Health) Liveness(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive"})
}

// Readiness: база доступна и активный проект загружен.
func (h *Health) Readiness(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "reason": "database"})
	}
	projectID, ok := h.ws.Graph().ProjectID()
	if !ok {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "reason": "no active project"})
	}
	return c.JSON(fiber.Map{
		"status":  "ready",
		"project": projectID,
		"unsaved": h.ws.Synchronizer().Unsaved(),
	})
}
