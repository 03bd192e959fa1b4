package capture

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Acquisition loop tuning.
const (
	// FailureThreshold is the consecutive-failure count that, once exceeded,
	// triggers a device reopen.
	FailureThreshold = 50
	// FailureLogEvery bounds log volume during a failure burst: the first
	// failure and every FailureLogEvery-th one after it are logged.
	FailureLogEvery = 30
	// FailureDelay is slept after every failed read.
	FailureDelay = 10 * time.Millisecond
	// SettleDelay is slept after releasing the old session and again after
	// opening the new one.
	SettleDelay = 500 * time.Millisecond
	// activityLogInterval is how often a healthy loop reports its counters.
	activityLogInterval = 3 * time.Second
)

// AcquirerConfig configures an Acquirer. Zero values fall back to the
// package defaults, except for the delays: a negative delay disables sleeping.
type AcquirerConfig struct {
	Settings         Settings
	Open             OpenFunc
	Slot             *FrameSlot
	Clock            clock.Clock
	Logger           *zap.SugaredLogger
	FailureThreshold int
	FailureLogEvery  int
	FailureDelay     time.Duration
	SettleDelay      time.Duration
}

// Stats is a point-in-time view of acquisition counters.
type Stats struct {
	Reads            uint64 `json:"reads"`
	Failures         uint64 `json:"failures"`
	Consecutive      uint64 `json:"consecutive_failures"`
	RecoveryAttempts uint64 `json:"recovery_attempts"`
	Recoveries       uint64 `json:"recoveries"`
}

// Acquirer runs the acquisition loop: it reads frames from its camera session
// into a FrameSlot and reopens the session when reads keep failing.
//
// The session is owned exclusively by the loop goroutine. Recovery replaces
// it with a freshly opened one rather than reconfiguring it in place.
type Acquirer struct {
	cfg    AcquirerConfig
	log    *zap.SugaredLogger
	camera Camera

	running atomic.Bool
	started atomic.Bool
	done    chan struct{}

	reads            atomic.Uint64
	failures         atomic.Uint64
	consecutive      atomic.Uint64
	recoveryAttempts atomic.Uint64
	recoveries       atomic.Uint64

	lastActivityLog time.Time
}

// NewAcquirer creates an Acquirer around an already opened camera session.
func NewAcquirer(cam Camera, cfg AcquirerConfig) *Acquirer {
	if cfg.Open == nil {
		cfg.Open = OpenDevice
	}
	if cfg.Slot == nil {
		cfg.Slot = NewFrameSlot()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = FailureThreshold
	}
	if cfg.FailureLogEvery <= 0 {
		cfg.FailureLogEvery = FailureLogEvery
	}
	if cfg.FailureDelay == 0 {
		cfg.FailureDelay = FailureDelay
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = SettleDelay
	}

	a := &Acquirer{
		cfg:    cfg,
		log:    cfg.Logger,
		camera: cam,
		done:   make(chan struct{}),
	}
	a.running.Store(true)
	a.lastActivityLog = cfg.Clock.Now()
	return a
}

// Slot returns the frame slot the loop writes into.
func (a *Acquirer) Slot() *FrameSlot {
	return a.cfg.Slot
}

// Start runs the loop in a new goroutine. Calling Start more than once has no
// effect.
func (a *Acquirer) Start() {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	go a.Run()
}

// Run reads frames until Stop is called. The stop flag is checked once per
// iteration; a read in progress is allowed to finish.
func (a *Acquirer) Run() {
	a.started.Store(true)
	defer close(a.done)

	for a.running.Load() {
		a.step()
	}
}

// Stop asks the loop to exit after its current iteration.
func (a *Acquirer) Stop() {
	a.running.Store(false)
}

// Running reports whether the stop flag is still clear.
func (a *Acquirer) Running() bool {
	return a.running.Load()
}

// Wait blocks until the loop has exited. It returns immediately if the loop
// was never started.
func (a *Acquirer) Wait() {
	if !a.started.Load() {
		return
	}
	<-a.done
}

// Close releases the current camera session. It must only be called once the
// loop has exited.
func (a *Acquirer) Close() error {
	if a.camera == nil {
		return nil
	}
	err := a.camera.Close()
	a.camera = nil
	return err
}

// Stats returns the current counters.
func (a *Acquirer) Stats() Stats {
	return Stats{
		Reads:            a.reads.Load(),
		Failures:         a.failures.Load(),
		Consecutive:      a.consecutive.Load(),
		RecoveryAttempts: a.recoveryAttempts.Load(),
		Recoveries:       a.recoveries.Load(),
	}
}

// step performs one loop iteration: one read attempt, plus recovery when the
// failure streak has crossed the threshold.
func (a *Acquirer) step() {
	var err error
	if a.camera == nil {
		err = ErrCameraNotOpen
	} else {
		mat, readErr := a.camera.ReadFrame()
		if readErr == nil {
			a.cfg.Slot.Store(mat, a.cfg.Clock.Now())
			a.consecutive.Store(0)
			a.reads.Add(1)
			a.logActivity()
			return
		}
		err = readErr
	}

	n := a.consecutive.Add(1)
	a.failures.Add(1)
	a.cfg.Slot.Invalidate()

	if n == 1 || n%uint64(a.cfg.FailureLogEvery) == 0 {
		a.log.Warnw("failed to read frame from camera", "consecutive", n, "error", err)
	}

	a.sleep(a.cfg.FailureDelay)

	if n > uint64(a.cfg.FailureThreshold) {
		a.recover()
	}
}

// recover releases the current session and opens a new one on the same
// device. The failure streak is reset only when the reopen is confirmed, so a
// failed attempt is retried on the next failed read.
func (a *Acquirer) recover() {
	a.recoveryAttempts.Add(1)
	a.log.Errorw("camera read keeps failing, attempting recovery",
		"consecutive", a.consecutive.Load(),
		"device", a.cfg.Settings.DeviceID,
	)

	if a.camera != nil {
		if err := a.camera.Close(); err != nil {
			a.log.Warnw("error releasing camera during recovery", "error", err)
		}
		a.camera = nil
	}
	a.sleep(a.cfg.SettleDelay)

	cam, err := a.cfg.Open(a.cfg.Settings)
	a.sleep(a.cfg.SettleDelay)

	if err != nil || cam == nil || !cam.IsOpen() {
		if cam != nil {
			if cerr := cam.Close(); cerr != nil {
				a.log.Warnw("error releasing unopened camera during recovery", "error", cerr)
			}
		}
		a.log.Errorw("camera recovery failed, device could not be reopened", "error", err)
		return
	}

	cam.Apply(a.cfg.Settings)
	a.camera = cam
	a.consecutive.Store(0)
	a.recoveries.Add(1)
	a.log.Infow("camera recovery completed", "device", a.cfg.Settings.DeviceID)
}

func (a *Acquirer) sleep(d time.Duration) {
	if d > 0 {
		a.cfg.Clock.Sleep(d)
	}
}

func (a *Acquirer) logActivity() {
	now := a.cfg.Clock.Now()
	if now.Sub(a.lastActivityLog) < activityLogInterval {
		return
	}
	a.lastActivityLog = now
	a.log.Debugw("frame reader active", "reads", a.reads.Load(), "failures", a.failures.Load())
}
