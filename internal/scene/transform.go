package scene

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scene-gen/internal/common/apperr"
	"scene-gen/internal/scene/models"

	"github.com/gofiber/fiber/v3/log"
)

// ============================================================
// Transform Synchronizer
// ============================================================

const (
	DefaultDebounce     = 400 * time.Millisecond
	defaultWriteTimeout = 10 * time.Second
	flushPoll           = 5 * time.Millisecond
)

var errSuperseded = errors.New("superseded by a newer transform")

// Notice: неблокирующее уведомление UI о состоянии сохранения элемента.
type Notice struct {
	Key   string
	State models.SaveState
	Err   error
}

type SyncOptions struct {
	Debounce     time.Duration
	Retry        RetryPolicy
	WriteTimeout time.Duration
	OnNotice     func(Notice)
}

// pendingWrite: отложенная запись одного элемента. В полёте не больше одной
// записи на элемент, поэтому хранилище получает значения в порядке жестов.
type pendingWrite struct {
	n        *node
	patch    models.TransformPatch // ещё не отправленные поля
	seq      uint64                // номер последнего жеста
	timer    *time.Timer
	inflight bool
	due      bool // таймер сработал, пока предыдущая запись была в полёте
}

// Synchronizer применяет трансформации к графу сразу, а в хранилище
// отправляет их после паузы в жестах, по одной записи на элемент.
type Synchronizer struct {
	graph *Graph
	opts  SyncOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[*node]*pendingWrite
	closed  bool
}

func NewSynchronizer(graph *Graph, opts SyncOptions) *Synchronizer {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Retry.MaxTries == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		graph:   graph,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[*node]*pendingWrite),
	}
}

// ApplyTransform мгновенно меняет элемент в графе и планирует сохранение.
// Отсутствующие в patch поля не меняются.
func (s *Synchronizer) ApplyTransform(key string, patch models.TransformPatch) (models.SceneElement, error) {
	if patch.Empty() {
		return models.SceneElement{}, apperr.InvalidInput("transform patch is empty")
	}
	patch, ok := patch.Normalize()
	if !ok {
		return models.SceneElement{}, apperr.InvalidInput("transform values must be finite and scale strictly positive")
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return models.SceneElement{}, apperr.New(apperr.CodeConflict, "synchronizer closed")
	}

	n, el, err := s.graph.applyLocal(key, patch)
	if err != nil {
		return models.SceneElement{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[n]
	if !ok {
		p = &pendingWrite{n: n}
		s.pending[n] = p
	}
	p.patch = p.patch.Merge(patch)
	p.seq++
	s.graph.setSaveState(n, models.SaveStatePending)
	s.scheduleLocked(p, s.opts.Debounce)

	el.SaveState = models.SaveStatePending
	return el, nil
}

// Flush немедленно отправляет все отложенные записи и ждёт их завершения.
func (s *Synchronizer) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperr.New(apperr.CodeConflict, "synchronizer closed")
	}
	for _, p := range s.pending {
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		switch {
		case p.inflight:
			if !p.patch.Empty() {
				p.due = true
			}
		case !p.patch.Empty():
			s.startLocked(p)
		}
	}
	s.mu.Unlock()

	ticker := time.NewTicker(flushPoll)
	defer ticker.Stop()
	for !s.idle() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return apperr.Transport("flush transforms", ctx.Err())
		}
	}

	if n := s.Unsaved(); n > 0 {
		return apperr.New(apperr.CodeTransport, fmt.Sprintf("%d transforms not saved", n))
	}
	return nil
}

// idle: нет записей в полёте и нет сработавших, но не начатых записей.
func (s *Synchronizer) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p.inflight || p.due {
			return false
		}
	}
	return true
}

// Unsaved: число элементов с неотправленными изменениями.
func (s *Synchronizer) Unsaved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.pending {
		if !p.patch.Empty() || p.inflight {
			count++
		}
	}
	return count
}

// Close останавливает таймеры и прерывает записи в полёте.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.closed = true
	for _, p := range s.pending {
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// ============================================================
// Scheduling
// ============================================================

func (s *Synchronizer) scheduleLocked(p *pendingWrite, after time.Duration) {
	if p.timer != nil {
		p.timer.Stop()
	}
	seq := p.seq
	p.timer = time.AfterFunc(after, func() { s.fire(p, seq) })
}

func (s *Synchronizer) fire(p *pendingWrite, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pending[p.n] != p || p.seq != seq {
		return
	}
	p.timer = nil
	if p.inflight {
		p.due = true
		return
	}
	s.startLocked(p)
}

func (s *Synchronizer) startLocked(p *pendingWrite) {
	patch := p.patch
	p.patch = models.TransformPatch{}
	p.inflight = true
	p.due = false
	s.wg.Add(1)
	go s.write(p, patch, p.seq)
}

// ============================================================
// Persistence
// ============================================================

func (s *Synchronizer) write(p *pendingWrite, patch models.TransformPatch, sent uint64) {
	defer s.wg.Done()

	id, key, state := s.graph.persistTarget(p.n)
	switch state {
	case targetRemoved:
		s.mu.Lock()
		s.dropLocked(p)
		s.mu.Unlock()
		return
	case targetWaiting:
		// элемент ещё размещается или удаляется; правка ждёт исхода
		s.mu.Lock()
		p.inflight = false
		p.patch = patch.Merge(p.patch)
		if !s.closed && p.timer == nil {
			s.scheduleLocked(p, s.opts.Debounce)
		}
		s.mu.Unlock()
		return
	}

	attempt := 0
	_, err := retry(s.ctx, s.opts.Retry, func() (models.SceneElement, error) {
		attempt++
		if attempt > 1 && s.superseded(p, sent) {
			return models.SceneElement{}, errSuperseded
		}
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.WriteTimeout)
		defer cancel()
		return s.graph.store.UpdateElement(ctx, id, patch)
	}, func(err error, next time.Duration) {
		log.Warnw("transform persistence failed, retrying", "key", key, "attempt", attempt, "next", next, "error", err)
	})

	var notice *Notice
	s.mu.Lock()
	p.inflight = false
	switch {
	case err == nil:
		switch {
		case p.due || p.timer != nil:
			// следующая запись уже запланирована
		case p.patch.Empty():
			delete(s.pending, p.n)
			s.graph.setSaveState(p.n, models.SaveStateSaved)
			notice = &Notice{Key: key, State: models.SaveStateSaved}
		case !s.closed:
			s.scheduleLocked(p, s.opts.Debounce)
		}
	case errors.Is(err, apperr.ErrNotFound):
		s.dropLocked(p)
		notice = &Notice{Key: key, State: models.SaveStateUnsaved, Err: err}
	default:
		p.patch = patch.Merge(p.patch)
		if !errors.Is(err, errSuperseded) && p.timer == nil && !p.due {
			s.graph.setSaveState(p.n, models.SaveStateUnsaved)
			notice = &Notice{Key: key, State: models.SaveStateUnsaved, Err: err}
			log.Errorw("transform not saved", "key", key, "attempts", attempt, "error", err)
		}
	}
	if p.due && !s.closed {
		s.startLocked(p)
	}
	s.mu.Unlock()

	if notice != nil && s.opts.OnNotice != nil {
		s.opts.OnNotice(*notice)
	}
}

func (s *Synchronizer) superseded(p *pendingWrite, sent uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.seq != sent
}

func (s *Synchronizer) dropLocked(p *pendingWrite) {
	p.inflight = false
	p.due = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if s.pending[p.n] == p {
		delete(s.pending, p.n)
	}
}
