package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Skryldev/image-editor/config"
	apperrors "github.com/Skryldev/image-editor/errors"
	"github.com/Skryldev/image-editor/params"
)

// State is the run state of one session.
type State int

const (
	StateIdle State = iota
	StateProcessing
)

func (s State) String() string {
	if s == StateProcessing {
		return "processing"
	}
	return "idle"
}

// Edit is one client request against a session.
type Edit struct {
	Params params.Parameters
	// CropSource replaces the stored original for this and every later run
	// until a reset.
	CropSource []byte
	// Reset discards Params and the crop source and renders the defaults.
	Reset bool
}

// Job is a single preview run handed to the Renderer.
type Job struct {
	ImageID    string
	Params     params.Parameters
	Source     []byte // nil means the stored original
	Generation uint64
}

// Artifact is the outcome of a successful run.
type Artifact struct {
	URL string
}

// Result is delivered to every request-mode waiter a run covers.
type Result struct {
	PreviewURL string
	Generation uint64
	Err        error
}

// Renderer produces preview artifacts.
type Renderer interface {
	Render(ctx context.Context, job Job) (Artifact, error)
	// Dimensions reports the pre-rotation size of the image a run would use:
	// source when non-nil, else the stored original of imageID.
	Dimensions(ctx context.Context, imageID string, source []byte) (w, h int, err error)
}

// Notifier pushes messages to the channel bound to an image.
type Notifier interface {
	Send(imageID string, msg any) bool
	Bound(imageID string) bool
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	State       State
	Applied     params.Parameters
	Generation  uint64
	Pending     bool
	HasOverride bool
}

var errClosed = errors.New("session controller closed")

type request struct {
	params  params.Parameters
	source  []byte
	waiters []chan Result
}

type session struct {
	id string

	mu         sync.Mutex
	state      State
	applied    params.Parameters
	pending    *request
	override   []byte
	generation uint64
	// straggler is the result channel of a run abandoned at its deadline.
	straggler  <-chan Result
	released   bool
	closed     bool
	lastActive time.Time
}

// Controller runs at most one preview per session at a time.  Edits that
// arrive mid-run are folded into a single pending slot; the latest wins.
type Controller struct {
	renderer Renderer
	notifier Notifier
	timeout  time.Duration
	log      zerolog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
}

// NewController creates a Controller.  A zero RunTimeout disables the
// per-run deadline.
func NewController(r Renderer, n Notifier, cfg config.SessionConfig, log zerolog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		renderer: r,
		notifier: n,
		timeout:  cfg.RunTimeout,
		log:      log,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Open creates the session for imageID if needed and marks it in use.  It
// fails when the image does not exist.
func (c *Controller) Open(ctx context.Context, imageID string) error {
	if c.closed.Load() {
		return apperrors.New(apperrors.CategoryTransform, "session.open", errClosed)
	}
	if _, _, err := c.renderer.Dimensions(ctx, imageID, nil); err != nil {
		return err
	}
	s := c.acquire(imageID)
	s.mu.Unlock()
	return nil
}

// Submit validates e and schedules it.  Invalid edits are rejected here with
// no run started and the session untouched.  The returned channel receives
// the result of the run that covers e; callers may ignore it.
func (c *Controller) Submit(ctx context.Context, imageID string, e Edit) (<-chan Result, error) {
	if c.closed.Load() {
		return nil, apperrors.New(apperrors.CategoryTransform, "session.submit", errClosed)
	}

	p := e.Params
	if e.Reset {
		p = params.Defaults()
	}

	source := e.CropSource
	if source == nil && !e.Reset {
		source = c.currentOverride(imageID)
	}
	w, h, err := c.renderer.Dimensions(ctx, imageID, source)
	if err != nil {
		return nil, err
	}
	if err := params.ValidateCrop(p, w, h); err != nil {
		return nil, err
	}

	s := c.acquire(imageID)
	defer s.mu.Unlock()

	if e.Reset {
		s.override = nil
	}
	if e.CropSource != nil {
		s.override = e.CropSource
	}
	s.lastActive = c.now()

	res := make(chan Result, 1)
	switch {
	case s.state == StateIdle:
		s.state = StateProcessing
		c.wg.Add(1)
		go c.loop(s, &request{params: p, source: s.override, waiters: []chan Result{res}})
	case s.pending != nil:
		s.pending.params = p
		s.pending.source = s.override
		s.pending.waiters = append(s.pending.waiters, res)
		c.log.Debug().Str("image_id", imageID).Msg("session.edit.coalesced")
	default:
		s.pending = &request{params: p, source: s.override, waiters: []chan Result{res}}
		c.log.Debug().Str("image_id", imageID).Msg("session.edit.pending")
	}
	return res, nil
}

// Release is called when the bound channel for imageID closes.  An idle
// session is dropped at once; a busy one after its run finishes.
func (c *Controller) Release(imageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[imageID]
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.closed = true
		delete(c.sessions, imageID)
		return
	}
	s.released = true
}

// Sweep drops idle sessions with no bound channel that have been inactive
// for at least ttl.  It returns the number removed.
func (c *Controller) Sweep(ttl time.Duration) int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, s := range c.sessions {
		s.mu.Lock()
		if s.state == StateIdle && now.Sub(s.lastActive) >= ttl && !c.notifier.Bound(id) {
			s.closed = true
			delete(c.sessions, id)
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}

// RunSweeper calls Sweep periodically until ctx or the controller is done.
func (c *Controller) RunSweeper(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(ttl); n > 0 {
				c.log.Info().Int("removed", n).Msg("session.sweep")
			}
		}
	}
}

// Snapshot returns the current view of imageID's session.
func (c *Controller) Snapshot(imageID string) (Snapshot, bool) {
	c.mu.Lock()
	s, ok := c.sessions[imageID]
	c.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:       s.state,
		Applied:     s.applied,
		Generation:  s.generation,
		Pending:     s.pending != nil,
		HasOverride: s.override != nil,
	}, true
}

// Count returns the number of live sessions.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Close cancels in-flight runs, rejects further edits and waits for every
// run loop to exit.
func (c *Controller) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.cancel()
	c.wg.Wait()
}

// acquire returns imageID's session, creating it if needed, with its mutex
// held.
func (c *Controller) acquire(imageID string) *session {
	for {
		c.mu.Lock()
		s, ok := c.sessions[imageID]
		if !ok {
			s = &session{id: imageID, applied: params.Defaults(), lastActive: c.now()}
			c.sessions[imageID] = s
		}
		c.mu.Unlock()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		s.released = false
		return s
	}
}

func (c *Controller) currentOverride(imageID string) []byte {
	c.mu.Lock()
	s, ok := c.sessions[imageID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.override
}

func (c *Controller) loop(s *session, req *request) {
	defer c.wg.Done()
	for req != nil {
		s.mu.Lock()
		s.generation++
		gen := s.generation
		prev := s.straggler
		s.straggler = nil
		s.mu.Unlock()

		c.awaitStraggler(s.id, prev)
		res, straggler := c.run(s.id, req, gen)
		if straggler != nil {
			s.mu.Lock()
			s.straggler = straggler
			s.mu.Unlock()
		}

		s.mu.Lock()
		if res.Err == nil {
			s.applied = req.params
		}
		s.mu.Unlock()

		c.notify(s.id, res)
		for _, w := range req.waiters {
			w <- res
		}

		s.mu.Lock()
		req = s.pending
		s.pending = nil
		if req == nil {
			s.state = StateIdle
			s.lastActive = c.now()
		}
		drop := req == nil && s.released
		s.mu.Unlock()

		if drop {
			c.dropReleased(s)
		}
	}
}

// run executes one render.  When the deadline fires first, the still-running
// render's result channel is returned so the next run can wait for it.
func (c *Controller) run(imageID string, req *request, gen uint64) (Result, <-chan Result) {
	ctx, cancel := c.runContext()
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Err: apperrors.New(apperrors.CategoryTransform, "session.run", fmt.Errorf("panic: %v", r))}
			}
		}()
		a, err := c.renderer.Render(ctx, Job{ImageID: imageID, Params: req.params, Source: req.source, Generation: gen})
		done <- Result{PreviewURL: a.URL, Err: err}
	}()

	var (
		res       Result
		straggler <-chan Result
	)
	select {
	case res = <-done:
		res.Err = transformError(res.Err)
	case <-ctx.Done():
		straggler = done
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", apperrors.ErrTimeout, c.timeout)
		}
		res.Err = apperrors.New(apperrors.CategoryTransform, "session.run", err)
	}
	res.Generation = gen

	ev := c.log.Debug()
	if res.Err != nil {
		ev = c.log.Warn().Err(res.Err).Str("category", string(apperrors.CategoryOf(res.Err)))
	}
	ev.Str("image_id", imageID).
		Uint64("generation", gen).
		Dur("duration", time.Since(start)).
		Msg("session.run")
	return res, straggler
}

// awaitStraggler blocks until an abandoned render has returned, so a session
// never has two renders in flight.  A render that ignores cancellation is
// given one more RunTimeout before the session moves on without it.  Close
// ends the wait.
func (c *Controller) awaitStraggler(imageID string, done <-chan Result) {
	if done == nil {
		return
	}
	var expired <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-done:
	case <-c.ctx.Done():
	case <-expired:
		c.log.Warn().Str("image_id", imageID).Msg("session.run.straggler")
	}
}

func (c *Controller) runContext() (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(c.ctx, c.timeout)
	}
	return context.WithCancel(c.ctx)
}

func (c *Controller) notify(imageID string, res Result) {
	var msg any = NewPreviewUpdate(res.PreviewURL)
	if res.Err != nil {
		msg = NewErrorMessage(ClientMessage(res.Err))
	}
	if !c.notifier.Send(imageID, msg) {
		err := apperrors.New(apperrors.CategoryDelivery, "session.notify", apperrors.ErrNotBound)
		c.log.Debug().Err(err).Str("image_id", imageID).Msg("session.notify.undelivered")
	}
}

func (c *Controller) dropReleased(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.released || s.state != StateIdle || c.sessions[s.id] != s {
		return
	}
	s.closed = true
	delete(c.sessions, s.id)
}

// transformError keeps client-facing categories and folds everything else
// into a transform error.
func transformError(err error) error {
	if err == nil {
		return nil
	}
	switch apperrors.CategoryOf(err) {
	case apperrors.CategoryValidation, apperrors.CategoryDecode, apperrors.CategoryEncode,
		apperrors.CategoryNotFound, apperrors.CategoryTransform:
		return err
	}
	return &apperrors.ProcessingError{
		Category:  apperrors.CategoryTransform,
		Op:        "session.run",
		Err:       err,
		Retryable: apperrors.IsRetryable(err),
	}
}

// ClientMessage is the text shown to a client for err.  Validation failures
// carry their detail; anything else is reported generically.
func ClientMessage(err error) string {
	var pe *apperrors.ProcessingError
	if !errors.As(err, &pe) {
		return "Error processing image"
	}
	switch pe.Category {
	case apperrors.CategoryValidation:
		for {
			var inner *apperrors.ProcessingError
			if !errors.As(pe.Err, &inner) {
				return pe.Err.Error()
			}
			pe = inner
		}
	case apperrors.CategoryNotFound:
		return "image not found"
	case apperrors.CategoryDecode:
		return "unreadable image"
	}
	return "Error processing image"
}
