package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scene-gen/internal/common/config"
	"scene-gen/internal/common/middleware"
	"scene-gen/internal/render"
	"scene-gen/internal/render/generation"
	"scene-gen/internal/scene"
	"scene-gen/internal/scene/repository"
	"scene-gen/internal/studio"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/log"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

// ============================================================
// Scene Studio
// ============================================================

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	middleware.SetLogLevel(cfg.LogLevel)

	db, err := repository.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	repo := repository.New(db)
	if err := repo.Init(context.Background()); err != nil {
		log.Fatalf("init db: %v", err)
	}

	retry := scene.DefaultRetryPolicy()
	retry.MaxTries = cfg.PersistRetries
	ws := studio.NewWorkspace(repo, studio.Options{Debounce: cfg.Debounce, Retry: retry})
	project, err := ws.Open(context.Background())
	if err != nil {
		log.Fatalf("open workspace: %v", err)
	}
	log.Infow("active project", "project", project.ID, "name", project.Name)

	renderer := render.NewService(generationClient(cfg), cfg.RenderTimeout)
	handler := studio.NewHandler(ws, studio.NewFileStorage(cfg.UploadDir), renderer)
	health := studio.NewHealth(db, ws)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:    20 * 1024 * 1024,
		AppName:      "Scene Studio",
	})

	// ============================================================
	// Global Middleware
	// ============================================================

	app.Use(recover.New())
	app.Use(middleware.CORS(cfg.CORSOrigins))
	app.Use(middleware.Logger())

	// ============================================================
	// Routes
	// ============================================================

	health.Mount(app)
	handler.Mount(app)

	// ============================================================
	// Server Start
	// ============================================================

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Errorw("server shutdown", "error", err)
		}
	}()

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Infof("Starting Scene Studio on %s (env: %s)", addr, cfg.Environment)

	if err := app.Listen(addr); err != nil {
		log.Errorw("server stopped", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ws.Close(ctx); err != nil {
		log.Warnw("transforms left unsaved on shutdown", "error", err)
	}
}

// generationClient: без адреса сервиса рендер работает через офлайн-провайдер.
func generationClient(cfg *config.Config) generation.Client {
	if cfg.GenerationURL == "" {
		log.Warn("SCENEGEN_GENERATION_URL is empty, using simulated generation")
		return generation.Simulated{}
	}
	return generation.NewHTTPClient(cfg.GenerationURL, cfg.GenerationToken, &http.Client{Timeout: cfg.RenderTimeout})
}
