// Package tui is the interactive setup wizard. It renders the page the
// wizard router picks for each reconciliation result, applies recommended
// fixes on request and re-checks the system on a timer so that manual steps
// done outside the terminal (granting a permission, installing a package)
// move the wizard forward on their own.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
	"github.com/keymend/keymend/internal/engine"
	"github.com/keymend/keymend/internal/remedy"
	"github.com/keymend/keymend/internal/wizard"
)

// recheckInterval is how often the wizard re-runs a reconciliation pass
// while idle. Granting a permission in System Settings shows up within one
// interval.
const recheckInterval = 3 * time.Second

// Options configures the wizard.
type Options struct {
	Context  context.Context
	Engine   *engine.Engine
	Executor domain.FixExecutor
	Logger   *zap.Logger
}

// Model is the root wizard state for Bubble Tea.
type Model struct {
	ctx      context.Context
	engine   *engine.Engine
	executor domain.FixExecutor
	router   *wizard.Router
	logger   *zap.Logger

	styles  styles
	spinner spinner.Model

	page        domain.WizardPage
	result      *domain.SystemStateResult
	lastChecked time.Time
	checking    bool
	fixing      bool
	outcomes    []domain.FixOutcome
	checkErr    error

	width  int
	height int
}

// New creates the wizard model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	st := defaultStyles()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = st.Muted

	return Model{
		ctx:      ctx,
		engine:   opts.Engine,
		executor: opts.Executor,
		router:   wizard.NewRouter(),
		logger:   opts.Logger,
		styles:   st,
		spinner:  sp,
		page:     domain.PageSummary,
		checking: true,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		checkCmd(m.ctx, m.engine),
		tickCmd(),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		// Idle re-check; a pass or fix already in flight takes precedence.
		if !m.checking && !m.fixing {
			m.checking = true
			return m, tea.Batch(checkCmd(m.ctx, m.engine), tickCmd())
		}
		return m, tickCmd()

	case resultMsg:
		return m.handleResult(msg)

	case checkFailedMsg:
		m.checking = false
		if !errors.Is(msg.err, engine.ErrPassInProgress) {
			m.checkErr = msg.err
		}
		return m, nil

	case fixesDoneMsg:
		m.fixing = false
		m.outcomes = msg
		m.logger.Info("wizard applied fixes", zap.Int("count", len(msg)))
		// Re-check immediately so the page reflects what the fixes did.
		m.checking = true
		return m, checkCmd(m.ctx, m.engine)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.result == nil {
		return "\n  " + m.spinner.View() + " Checking your keyboard setup...\n"
	}
	return m.render()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "r":
		if !m.checking && !m.fixing {
			m.checking = true
			m.checkErr = nil
			return m, checkCmd(m.ctx, m.engine)
		}
		return m, nil

	case "enter", "f":
		return m.handleApply()
	}

	return m, nil
}

// handleApply runs the recommended fixes for the current result, or just
// re-checks on pages that only carry manual steps.
func (m Model) handleApply() (tea.Model, tea.Cmd) {
	if m.checking || m.fixing || m.result == nil {
		return m, nil
	}
	if m.page == domain.PageSummary && m.result.State.Kind == domain.StateActive {
		return m, tea.Quit
	}
	if len(m.result.Actions) == 0 {
		m.checking = true
		return m, checkCmd(m.ctx, m.engine)
	}
	m.fixing = true
	m.outcomes = nil
	return m, fixCmd(m.ctx, m.executor, m.result.Actions, m.result.Snapshot)
}

func (m Model) handleResult(msg resultMsg) (tea.Model, tea.Cmd) {
	m.checking = false
	m.checkErr = nil
	m.result = msg.result
	m.lastChecked = msg.result.Timestamp

	next := m.router.Route(m.page, msg.result.State, msg.result.Issues)
	if next != m.page {
		m.logger.Debug("wizard page changed",
			zap.String("from", string(m.page)),
			zap.String("to", string(next)))
		m.page = next
		m.outcomes = nil
	}
	return m, nil
}

// Messages

type tickMsg time.Time

type resultMsg struct {
	result *domain.SystemStateResult
}

type checkFailedMsg struct {
	err error
}

type fixesDoneMsg []domain.FixOutcome

// Commands

func tickCmd() tea.Cmd {
	return tea.Tick(recheckInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func checkCmd(ctx context.Context, eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		result, err := eng.Reconcile(ctx)
		if err != nil {
			return checkFailedMsg{err: err}
		}
		return resultMsg{result: result}
	}
}

func fixCmd(ctx context.Context, executor domain.FixExecutor, actions []domain.AutoFixAction, snap domain.SystemSnapshot) tea.Cmd {
	return func() tea.Msg {
		outcomes := remedy.ApplyAll(ctx, executor, actions, &snap)
		return fixesDoneMsg(outcomes)
	}
}

// Run starts the wizard and blocks until it exits.
func Run(ctx context.Context, eng *engine.Engine, executor domain.FixExecutor, logger *zap.Logger) error {
	m := New(Options{Context: ctx, Engine: eng, Executor: executor, Logger: logger})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
