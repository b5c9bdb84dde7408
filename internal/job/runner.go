// Package job runs one autofill batch at a time in the background and
// publishes its progress as consistent snapshots.
package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/a3tai/rat-autofill/internal/browser"
	"github.com/a3tai/rat-autofill/internal/credentials"
	"github.com/a3tai/rat-autofill/internal/form"
	"github.com/a3tai/rat-autofill/internal/pdf"
)

var (
	// ErrRunInProgress is returned by Start while another run is active.
	ErrRunInProgress = errors.New("an autofill run is already in progress")
	// ErrNotRunning is returned by Cancel when no run is active.
	ErrNotRunning = errors.New("no autofill run in progress")
)

// Extractor turns uploaded documents into credential records.
type Extractor interface {
	ExtractAll(docs []pdf.Document) []credentials.Record
}

// Processor fills the questionnaire for one record.
type Processor interface {
	Run(ctx context.Context, session browser.Session, rec credentials.Record) form.Result
}

// Options configures a Runner.
type Options struct {
	Browser   browser.Browser
	Extractor Extractor
	Processor Processor
	UserDelay time.Duration
	Logger    *log.Logger
}

// Runner owns the run status. Only the worker of the active run mutates it;
// Cancel and Reset touch it under the same lock.
type Runner struct {
	browser   browser.Browser
	extractor Extractor
	processor Processor
	delay     time.Duration
	logger    *log.Logger

	mu       sync.RWMutex
	status   RunStatus
	cancelCh chan struct{}
	done     chan struct{}
}

// NewRunner creates an idle runner.
func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		browser:   opts.Browser,
		extractor: opts.Extractor,
		processor: opts.Processor,
		delay:     opts.UserDelay,
		logger:    logger,
		status:    idleStatus(),
	}
}

// Start begins a run over docs and returns its ID. It returns
// ErrRunInProgress without touching the active run if one is running.
// ctx bounds the whole run, so it must outlive the request that started it.
// release, when non-nil, is called once after the run has ended.
func (r *Runner) Start(ctx context.Context, docs []pdf.Document, release func()) (string, error) {
	r.mu.Lock()
	if r.status.Running {
		r.mu.Unlock()
		return "", ErrRunInProgress
	}

	id := uuid.NewString()
	r.status = idleStatus()
	r.status.RunID = id
	r.status.Running = true
	r.status.StartedAt = time.Now()
	r.cancelCh = make(chan struct{})
	r.done = make(chan struct{})
	cancelCh, done := r.cancelCh, r.done
	r.mu.Unlock()

	r.logger.Printf("[INFO] run %s started with %d document(s)", id, len(docs))
	go r.run(ctx, docs, cancelCh, done, release)
	return id, nil
}

// Cancel asks the active run to stop before its next record.
func (r *Runner) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.status.Running {
		return ErrNotRunning
	}
	if !r.status.CancelRequested {
		r.status.CancelRequested = true
		close(r.cancelCh)
	}
	return nil
}

// Reset clears a finished run. It reports false while a run is active.
func (r *Runner) Reset() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Running {
		return false
	}
	r.status = idleStatus()
	return true
}

// Snapshot returns a deep copy of the current status.
func (r *Runner) Snapshot() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.clone()
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.Running
}

// Wait blocks until the latest run, if any, has ended and been released.
func (r *Runner) Wait() {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (r *Runner) run(ctx context.Context, docs []pdf.Document, cancelCh <-chan struct{}, done chan struct{}, release func()) {
	defer close(done)
	defer func() {
		if release != nil {
			release()
		}
	}()
	defer r.finish()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("[ERROR] run aborted: %v", rec)
			r.setError(fmt.Sprintf("run aborted: %v", rec))
		}
	}()

	records := r.extractor.ExtractAll(docs)
	if len(records) == 0 {
		r.logger.Printf("[ERROR] %s", MessageNoUsers)
		r.setError(MessageNoUsers)
		return
	}
	r.update(func(s *RunStatus) { s.Total = len(records) })

	session, err := r.browser.Open(ctx)
	if err != nil {
		r.logger.Printf("[ERROR] failed to open browser: %v", err)
		r.setError(fmt.Sprintf("failed to open browser: %v", err))
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Printf("[WARN] failed to close browser: %v", err)
		}
	}()

	for i, rec := range records {
		if reason := r.stopReason(ctx, cancelCh); reason != "" {
			r.logger.Printf("[INFO] run stopped before user %d/%d: %s", i+1, len(records), reason)
			r.setError(reason)
			return
		}

		r.logger.Printf("[INFO] [%d/%d] processing user %s", i+1, len(records), rec.Username)
		idx := r.begin(i+1, rec.Username)
		res := r.process(ctx, session, rec)
		r.end(idx, rec.Username, res)

		if i < len(records)-1 {
			r.pause(ctx, cancelCh)
		}
	}
}

// process runs the processor for one record; a panic fails the record only.
func (r *Runner) process(ctx context.Context, session browser.Session, rec credentials.Record) (res form.Result) {
	defer func() {
		if p := recover(); p != nil {
			res = form.Result{Outcome: form.OutcomeFailed, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return r.processor.Run(ctx, session, rec)
}

// stopReason returns the message recorded when the loop must stop, or "" to
// continue. An operator cancel takes precedence over a shutdown.
func (r *Runner) stopReason(ctx context.Context, cancelCh <-chan struct{}) string {
	select {
	case <-cancelCh:
		return MessageCancelled
	default:
	}
	if ctx.Err() != nil {
		return MessageShutdown
	}
	return ""
}

// pause waits for the inter-user delay. Cancellation cuts it short; the loop
// notices at the next record boundary.
func (r *Runner) pause(ctx context.Context, cancelCh <-chan struct{}) {
	if r.delay <= 0 {
		return
	}
	t := time.NewTimer(r.delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-cancelCh:
	case <-ctx.Done():
	}
}

func (r *Runner) update(fn func(s *RunStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.status)
}

func (r *Runner) setError(msg string) {
	r.update(func(s *RunStatus) { s.Error = &msg })
}

// begin publishes the current record and appends its processing result.
func (r *Runner) begin(index int, username string) int {
	now := time.Now()
	var pos int
	r.update(func(s *RunStatus) {
		s.CurrentIndex = index
		s.CurrentUsername = username
		s.Results = append(s.Results, UserResult{
			Index:     index,
			Username:  username,
			Status:    StatusProcessing,
			Message:   MessageProcessing,
			StartTime: now.Format(clockLayout),
			EndTime:   "-",
			StartedAt: now,
		})
		pos = len(s.Results) - 1
	})
	return pos
}

func (r *Runner) end(pos int, username string, res form.Result) {
	status, message := statusFor(res)
	now := time.Now()
	r.update(func(s *RunStatus) {
		result := &s.Results[pos]
		result.Status = status
		result.Message = message
		result.EndTime = now.Format(clockLayout)
		result.EndedAt = now

		switch status {
		case StatusSuccess:
			s.Summary.Success++
		case StatusSkipped:
			s.Summary.Skipped++
		default:
			s.Summary.Failed++
		}
	})
	r.logger.Printf("[INFO] %s: %s", username, message)
}

func (r *Runner) finish() {
	r.update(func(s *RunStatus) {
		s.Running = false
		s.Completed = true
		s.FinishedAt = time.Now()
	})
	snap := r.Snapshot()
	r.logger.Printf("[INFO] run %s finished: %d success, %d skipped, %d failed of %d",
		snap.RunID, snap.Summary.Success, snap.Summary.Skipped, snap.Summary.Failed, snap.Total)
}
