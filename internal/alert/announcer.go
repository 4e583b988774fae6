package alert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/echosight/internal/distance"
)

// Failure stages reported to Config.OnFailure.
const (
	StageSynthesize = "synthesize"
	StagePlay       = "play"
	StageCleanup    = "cleanup"
)

// Announcer defaults.
const (
	// MinCleanupDelay is the shortest time a clip is kept before deletion,
	// long enough for the player to have opened it.
	MinCleanupDelay     = 2 * time.Second
	DefaultLanguage     = "en"
	DefaultSynthTimeout = 10 * time.Second
)

// ErrClosed is returned when announcing after Close.
var ErrClosed = errors.New("announcer closed")

// Config configures an Announcer.
type Config struct {
	Synthesizer  Synthesizer
	Player       Player
	Language     string
	CleanupDelay time.Duration
	SynthTimeout time.Duration
	TempDir      string
	Clock        clock.Clock
	Logger       *zap.SugaredLogger

	// OnFailure is called with the failing stage whenever an alert is dropped
	// or its clip could not be removed.
	OnFailure func(stage string)
}

// Announcer speaks alerts without blocking the caller. Each alert runs in its
// own goroutine; its temporary clip is deleted by a timer after CleanupDelay.
type Announcer struct {
	synth        Synthesizer
	player       Player
	lang         string
	cleanupDelay time.Duration
	synthTimeout time.Duration
	tempDir      string
	clock        clock.Clock
	logger       *zap.SugaredLogger
	onFailure    func(stage string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending map[string]*clock.Timer
}

// NewAnnouncer creates an Announcer.
func NewAnnouncer(cfg Config) (*Announcer, error) {
	if cfg.Synthesizer == nil {
		return nil, errors.New("announcer requires a synthesizer")
	}
	if cfg.Player == nil {
		return nil, errors.New("announcer requires a player")
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.CleanupDelay < MinCleanupDelay {
		cfg.CleanupDelay = MinCleanupDelay
	}
	if cfg.SynthTimeout <= 0 {
		cfg.SynthTimeout = DefaultSynthTimeout
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Announcer{
		synth:        cfg.Synthesizer,
		player:       cfg.Player,
		lang:         cfg.Language,
		cleanupDelay: cfg.CleanupDelay,
		synthTimeout: cfg.SynthTimeout,
		tempDir:      cfg.TempDir,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		onFailure:    cfg.OnFailure,
		ctx:          ctx,
		cancel:       cancel,
		pending:      make(map[string]*clock.Timer),
	}, nil
}

// Message builds the sentence spoken for a new object.
func Message(label string, distanceMeters float64) string {
	if !distance.IsKnown(distanceMeters) {
		return fmt.Sprintf("New %s detected at unknown distance", label)
	}
	return fmt.Sprintf("New %s detected at distance %.1f meters", label, distanceMeters)
}

// Announce speaks the alert for label in the background and returns its id.
func (a *Announcer) Announce(label string, distanceMeters float64) (string, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return "", ErrClosed
	}
	a.wg.Add(1)
	a.mu.Unlock()

	id := uuid.NewString()
	text := Message(label, distanceMeters)
	path := filepath.Join(a.tempDir, "echosight-"+id+a.synth.Ext())

	a.logger.Infow("Speaking", "alert", id, "text", text)
	go a.speak(id, text, path)

	return id, nil
}

func (a *Announcer) speak(id, text, path string) {
	defer a.wg.Done()

	log := a.logger.With("alert", id)

	ctx, cancel := context.WithTimeout(a.ctx, a.synthTimeout)
	err := a.synth.Synthesize(ctx, text, a.lang, path)
	cancel()
	if err != nil {
		log.Warnw("Speech synthesis failed, dropping alert", "error", err)
		a.fail(StageSynthesize)
		a.remove(log, path)
		return
	}

	a.scheduleCleanup(log, path)

	if err := a.player.Play(a.ctx, path); err != nil {
		log.Warnw("Playback failed", "error", err)
		a.fail(StagePlay)
		return
	}
	log.Debugw("Playback finished", "file", path)
}

// scheduleCleanup deletes path after the cleanup delay.
func (a *Announcer) scheduleCleanup(log *zap.SugaredLogger, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending[path] = a.clock.AfterFunc(a.cleanupDelay, func() {
		a.mu.Lock()
		delete(a.pending, path)
		a.mu.Unlock()
		a.remove(log, path)
	})
}

// remove deletes path, ignoring files that are already gone.
func (a *Announcer) remove(log *zap.SugaredLogger, path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	log.Warnw("Error deleting file", "file", path, "error", err)
	a.fail(StageCleanup)
	return err
}

func (a *Announcer) fail(stage string) {
	if a.onFailure != nil {
		a.onFailure(stage)
	}
}

// Pending returns the number of clips waiting for deletion.
func (a *Announcer) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close stops accepting alerts and waits for in-flight ones until ctx is done,
// after which playback is cancelled. Clips still waiting for deletion are removed.
func (a *Announcer) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warnw("Alerts still in flight at shutdown, cancelling playback")
	}
	a.cancel()

	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[string]*clock.Timer)
	a.mu.Unlock()

	var errs error
	for path, timer := range pending {
		timer.Stop()
		errs = multierr.Append(errs, a.remove(a.logger, path))
	}
	return errs
}
