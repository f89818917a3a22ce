package render

import (
	"context"
	"errors"
	"sync"
	"time"

	"scene-gen/internal/common/apperr"
	"scene-gen/internal/render/generation"
	"scene-gen/internal/render/prompt"
	"scene-gen/internal/render/response"
	"scene-gen/internal/scene"

	"github.com/gofiber/fiber/v3/log"
)

// ============================================================
// Render Service
// ============================================================

const DefaultTimeout = 60 * time.Second

// ErrRenderInProgress: по проекту уже идёт рендер.
var ErrRenderInProgress = apperr.New(apperr.CodeConflict, "render already in progress")

type Params struct {
	Style  string        `json:"style"`
	Camera prompt.Camera `json:"camera"`
}

// Outcome: нормализованный результат вместе с отправленным запросом.
type Outcome struct {
	Result  response.Result `json:"result"`
	Request prompt.Request  `json:"request"`
}

// Service проводит снимок сцены через оркестратор, сервис генерации и интерпретатор.
// По одному проекту одновременно выполняется не больше одного рендера.
type Service struct {
	gen     generation.Client
	timeout time.Duration

	mu       sync.Mutex
	inflight map[int64]struct{}
}

func NewService(gen generation.Client, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		gen:      gen,
		timeout:  timeout,
		inflight: make(map[int64]struct{}),
	}
}

// Render не трогает сцену: снимок передаётся по значению.
func (s *Service) Render(ctx context.Context, snap scene.Snapshot, p Params) (Outcome, error) {
	projectID := snap.Project.ID
	if !s.acquire(projectID) {
		return Outcome{}, ErrRenderInProgress
	}
	defer s.release(projectID)

	req := prompt.Build(prompt.FromSnapshot(snap, p.Camera, p.Style))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	raw, err := s.gen.Generate(ctx, req)
	if err != nil {
		err = classify(ctx, err)
		log.Errorw("render failed", "project", projectID, "elapsed", time.Since(started), "error", err)
		return Outcome{}, err
	}

	reply := response.Parse(raw)
	if _, ok := reply.(response.Unrecognized); ok {
		log.Warnw("unrecognized generation reply", "project", projectID, "bytes", len(raw))
	}
	log.Infow("render complete", "project", projectID, "elements", len(snap.Elements), "elapsed", time.Since(started))

	return Outcome{Result: response.Normalize(reply), Request: req}, nil
}

// InProgress сообщает, идёт ли рендер проекта.
func (s *Service) InProgress(projectID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[projectID]
	return ok
}

func (s *Service) acquire(projectID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[projectID]; ok {
		return false
	}
	s.inflight[projectID] = struct{}{}
	return true
}

func (s *Service) release(projectID int64) {
	s.mu.Lock()
	delete(s.inflight, projectID)
	s.mu.Unlock()
}

// classify: истёкший таймаут и нетипизированные сбои считаются транспортными.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperr.ErrTransport) {
		return apperr.Transport("render timed out", err)
	}
	if apperr.CodeOf(err) == apperr.CodeUnknown {
		return apperr.Transport("generation", err)
	}
	return err
}
