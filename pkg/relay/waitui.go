package relay

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// waitui.go
//
// Terminal progress view for the readiness poll. Provisioning regularly
// takes tens of seconds; on a TTY we show a spinner with the session id and
// elapsed time instead of a silent hang. Off-TTY (scripts, pipes) the plain
// AwaitReady loop is used and nothing is drawn.

var (
	waitSpinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	waitDimStyle     = lipgloss.NewStyle().Faint(true)
)

type pollResultMsg struct {
	res *SessionResult
	err error
}

type pollAgainMsg struct{}

type waitModel struct {
	spin      spinner.Model
	sessionID string
	interval  time.Duration
	poll      func() (*SessionResult, error)
	started   time.Time

	result *SessionResult
	err    error
}

func newWaitModel(sessionID string, interval time.Duration, poll func() (*SessionResult, error)) waitModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = waitSpinnerStyle
	return waitModel{
		spin:      sp,
		sessionID: sessionID,
		interval:  interval,
		poll:      poll,
		started:   time.Now(),
	}
}

func (m waitModel) pollCmd() tea.Cmd {
	poll := m.poll
	return func() tea.Msg {
		res, err := poll()
		return pollResultMsg{res: res, err: err}
	}
}

func (m waitModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.pollCmd())
}

func (m waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.err = context.Canceled
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case pollResultMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		if msg.res.State == StatePending {
			return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return pollAgainMsg{} })
		}
		m.result = msg.res
		return m, tea.Quit

	case pollAgainMsg:
		return m, m.pollCmd()
	}
	return m, nil
}

func (m waitModel) View() string {
	if m.result != nil || m.err != nil {
		return ""
	}
	elapsed := time.Since(m.started).Round(time.Second)
	return fmt.Sprintf("%s waiting for relay session %s %s\n",
		m.spin.View(),
		m.sessionID,
		waitDimStyle.Render(fmt.Sprintf("(%s elapsed, ctrl+c to abandon)", elapsed)))
}

// AwaitReadyUI behaves like Client.AwaitReady but renders a spinner while
// polling when stdout is a terminal. Abandoning the wait (ctrl+c) cancels
// locally only; the remote session keeps provisioning and expires on its own
// TTL.
func AwaitReadyUI(ctx context.Context, c *Client, sessionID string, interval time.Duration) (*SessionResult, error) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return c.AwaitReady(ctx, sessionID, interval)
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	m := newWaitModel(sessionID, interval, func() (*SessionResult, error) {
		return c.Poll(ctx, sessionID)
	})
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	fm, ok := final.(waitModel)
	if !ok {
		return nil, fmt.Errorf("unexpected wait model type %T", final)
	}
	if fm.err != nil {
		return nil, fm.err
	}
	if fm.result == nil {
		return nil, context.Canceled
	}
	return fm.result, terminalErr(fm.result)
}
