// Package form drives one questionnaire submission per credential record:
// login, already-submitted check, answer fill, submit and logout. Every
// element is found through a ranked locator list, so the page markup can
// change without touching the state machine.
package form

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/a3tai/rat-autofill/internal/browser"
	"github.com/a3tai/rat-autofill/internal/credentials"
	"github.com/a3tai/rat-autofill/internal/locator"
)

// Outcome is the terminal classification of one record.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeAlreadyFilled Outcome = "already_filled"
	OutcomeFailed        Outcome = "failed"
)

const defaultStepTimeout = 30 * time.Second

// Answer is one free-text question and the value typed into it.
type Answer struct {
	Label string `mapstructure:"label" json:"label"`
	Value string `mapstructure:"value" json:"value"`
}

// DefaultAnswers returns the six "Saran & Masukan" answers.
func DefaultAnswers() []Answer {
	return []Answer{
		{Label: "Pelayanan ke Anggota", Value: "baik"},
		{Label: "Produk Pinjaman", Value: "banyak"},
		{Label: "Jumlah Pinjaman", Value: "banyak"},
		{Label: "Simpanan", Value: "banyak"},
		{Label: "Margin", Value: "sedikit"},
		{Label: "Lain-lain", Value: "cukup"},
	}
}

// Result is what one run of the state machine reports.
type Result struct {
	Outcome Outcome
	// Err explains a failed outcome.
	Err error
}

// Options configures a Machine.
type Options struct {
	TargetURL   string
	Answers     []Answer
	Rules       Rules
	SettleDelay time.Duration
	StepTimeout time.Duration
	Logger      *log.Logger
}

// Machine runs the login → check → fill → submit → logout sequence.
// It holds no per-record state and can be reused across records.
type Machine struct {
	target      string
	answers     []Answer
	rules       Rules
	settleDelay time.Duration
	stepTimeout time.Duration
	logger      *log.Logger
}

// New creates a state machine. Zero option values take defaults.
func New(opts Options) *Machine {
	m := &Machine{
		target:      opts.TargetURL,
		answers:     opts.Answers,
		rules:       opts.Rules,
		settleDelay: opts.SettleDelay,
		stepTimeout: opts.StepTimeout,
		logger:      opts.Logger,
	}
	if m.answers == nil {
		m.answers = DefaultAnswers()
	}
	if m.rules.Username == nil {
		m.rules = DefaultRules()
	}
	if m.settleDelay < 0 {
		m.settleDelay = 0
	}
	if m.stepTimeout <= 0 {
		m.stepTimeout = defaultStepTimeout
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	return m
}

// Run processes one record on session. It never panics and never returns an
// error: every fault is folded into a failed Result. Logout is attempted
// whatever the outcome.
func (m *Machine) Run(ctx context.Context, session browser.Session, rec credentials.Record) Result {
	res := m.protect(rec, func() Result { return m.process(ctx, session, rec) })
	m.protect(rec, func() Result {
		m.logout(ctx, session, rec)
		return res
	})
	return res
}

func (m *Machine) protect(rec credentials.Record, fn func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("[ERROR] %s: panic during processing: %v", rec.Username, r)
			res = failed(fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

func (m *Machine) process(ctx context.Context, session browser.Session, rec credentials.Record) Result {
	if err := m.step(ctx, "login", func(ctx context.Context) error {
		return m.login(ctx, session, rec)
	}); err != nil {
		return failed(err)
	}

	var filled bool
	if err := m.step(ctx, "check submitted", func(ctx context.Context) (err error) {
		filled, err = m.alreadySubmitted(ctx, session)
		return err
	}); err != nil {
		return failed(err)
	}
	if filled {
		m.logger.Printf("[INFO] %s: questionnaire already submitted", rec.Username)
		return Result{Outcome: OutcomeAlreadyFilled}
	}

	// Fill steps are best effort: a missing control is logged and the
	// record still proceeds to submit.
	if err := m.step(ctx, "fill opinions", func(ctx context.Context) error {
		return m.fillOpinions(ctx, session)
	}); err != nil {
		m.logger.Printf("[WARN] %s: %v", rec.Username, err)
	}
	if err := m.step(ctx, "fill answers", func(ctx context.Context) error {
		return m.fillAnswers(ctx, session)
	}); err != nil {
		m.logger.Printf("[WARN] %s: %v", rec.Username, err)
	}

	if err := m.step(ctx, "submit", func(ctx context.Context) error {
		return m.submit(ctx, session)
	}); err != nil {
		return failed(err)
	}

	m.logger.Printf("[SUCCESS] %s: questionnaire submitted", rec.Username)
	return Result{Outcome: OutcomeSuccess}
}

// step runs fn under the per-step timeout.
func (m *Machine) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, m.stepTimeout)
	defer cancel()

	err := fn(stepCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s: timed out after %s", name, m.stepTimeout)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (m *Machine) login(ctx context.Context, session browser.Session, rec credentials.Record) error {
	if err := session.Navigate(ctx, m.target); err != nil {
		return fmt.Errorf("failed to open %s: %w", m.target, err)
	}

	if err := m.fill(ctx, session, m.rules.Username, rec.Username); err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	if err := m.fill(ctx, session, m.rules.Password, rec.Password); err != nil {
		return fmt.Errorf("password field: %w", err)
	}

	button, err := locator.Resolve[browser.Element](ctx, session, m.rules.LoginButton)
	switch {
	case errors.Is(err, locator.ErrNotFound):
		m.logger.Printf("[WARN] %s: login button not found, continuing", rec.Username)
	case err != nil:
		return err
	default:
		if err := button.First().Click(ctx); err != nil {
			return fmt.Errorf("login button: %w", err)
		}
	}

	if err := sleep(ctx, m.settleDelay); err != nil {
		return err
	}

	// A page that still looks like the login form is logged only; the
	// already-submitted check and the submit step decide the outcome.
	current, err := session.URL(ctx)
	if err == nil && strings.Contains(strings.ToLower(current), "login") && current == m.target {
		m.logger.Printf("[WARN] %s: login may have failed, continuing", rec.Username)
	} else {
		m.logger.Printf("[INFO] %s: logged in", rec.Username)
	}
	return nil
}

func (m *Machine) fill(ctx context.Context, session browser.Session, ranked locator.Ranked, value string) error {
	match, err := locator.Resolve[browser.Element](ctx, session, ranked)
	if err != nil {
		return err
	}
	field := match.First()
	if err := field.Clear(ctx); err != nil {
		return err
	}
	return field.Type(ctx, value)
}

// alreadySubmitted reports whether the logged-in page shows a previous
// submission: an explicit indicator, or no send button next to an update
// control.
func (m *Machine) alreadySubmitted(ctx context.Context, session browser.Session) (bool, error) {
	found, err := locator.Exists[browser.Element](ctx, session, m.rules.AlreadyFilled)
	if err != nil || found {
		return found, err
	}

	send, err := locator.Exists[browser.Element](ctx, session, m.rules.SendButton)
	if err != nil || send {
		return false, err
	}
	return locator.Exists[browser.Element](ctx, session, m.rules.UpdateControl)
}

// fillOpinions selects every "Setuju" radio that is not selected yet.
func (m *Machine) fillOpinions(ctx context.Context, session browser.Session) error {
	match, err := locator.Resolve[browser.Element](ctx, session, m.rules.Agree)
	if errors.Is(err, locator.ErrNotFound) {
		m.logger.Printf("[WARN] no 'Setuju' radio buttons found")
		return nil
	}
	if err != nil {
		return err
	}

	clicked := 0
	for _, radio := range match.Elements {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		selected, err := radio.Selected(ctx)
		if err != nil || selected {
			continue
		}
		if err := radio.DispatchClick(ctx); err == nil {
			clicked++
		}
	}
	m.logger.Printf("[INFO] %d 'Setuju' option(s) found, %d selected via %s", len(match.Elements), clicked, match.Locator)
	return nil
}

// fillAnswers types each answer into the field next to its label. When no
// label matches at all, the text inputs of the answer table are filled in
// order instead.
func (m *Machine) fillAnswers(ctx context.Context, session browser.Session) error {
	filled := 0
	for _, a := range m.answers {
		ranked := m.rules.AnswerField.Expand(map[string]string{
			"label": a.Label,
			"name":  strings.ReplaceAll(strings.ToLower(a.Label), " ", "_"),
		})
		err := m.fill(ctx, session, ranked, a.Value)
		switch {
		case err == nil:
			filled++
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			m.logger.Printf("[WARN] answer field %q: %v", a.Label, err)
		}
	}

	if filled == 0 {
		match, err := locator.Resolve[browser.Element](ctx, session, m.rules.AnswerFallback)
		if err != nil && !errors.Is(err, locator.ErrNotFound) {
			return err
		}
		for i, field := range match.Elements {
			if i >= len(m.answers) {
				break
			}
			if field.Clear(ctx) == nil && field.Type(ctx, m.answers[i].Value) == nil {
				filled++
			}
		}
	}

	m.logger.Printf("[INFO] %d of %d answer field(s) filled", filled, len(m.answers))
	return nil
}

func (m *Machine) submit(ctx context.Context, session browser.Session) error {
	match, err := locator.Resolve[browser.Element](ctx, session, m.rules.Submit)
	if errors.Is(err, locator.ErrNotFound) {
		return errors.New("submit button (Kirim) not found")
	}
	if err != nil {
		return err
	}
	if err := match.First().DispatchClick(ctx); err != nil {
		return fmt.Errorf("submit button: %w", err)
	}
	return sleep(ctx, m.settleDelay)
}

// logout clicks a logout control, or navigates back to the target when the
// page has none. Errors are logged and never change the outcome.
func (m *Machine) logout(ctx context.Context, session browser.Session, rec credentials.Record) {
	err := m.step(ctx, "logout", func(ctx context.Context) error {
		match, err := locator.Resolve[browser.Element](ctx, session, m.rules.Logout)
		if err == nil {
			return match.First().DispatchClick(ctx)
		}
		if !errors.Is(err, locator.ErrNotFound) {
			return err
		}
		m.logger.Printf("[INFO] %s: no logout control, returning to %s", rec.Username, m.target)
		return session.Navigate(ctx, m.target)
	})
	if err != nil {
		m.logger.Printf("[WARN] %s: %v", rec.Username, err)
	}
}

func failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
