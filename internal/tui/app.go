// Package tui provides the interactive terminal UI for cloudanchor.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marimax/cloudanchor/internal/cloudanchor"
	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/scheduler"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// App is the main TUI application model. It stands in for the AR view:
// tapping places an anchor in front of the camera and hosts it, and the
// resolve dialog takes a short code.
type App struct {
	ctx      context.Context
	session  *cloudanchor.Session
	daemon   HealthChecker
	backend  string
	interval time.Duration

	input  textinput.Model
	mode   string
	width  int
	height int
	taps   int
	snap   cloudanchor.Snapshot

	daemonOnline bool
}

// New creates a new TUI application around session.
func New(ctx context.Context, session *cloudanchor.Session, opts Options) *App {
	ti := textinput.New()
	ti.Placeholder = "short code"
	ti.CharLimit = maxCodeDigits
	ti.Width = 20

	interval := opts.FrameInterval
	if interval <= 0 {
		interval = scheduler.DefaultFrameInterval
	}

	a := &App{
		ctx:      ctx,
		session:  session,
		daemon:   opts.Daemon,
		backend:  opts.Backend,
		interval: interval,
		input:    ti,
		mode:     modeScene,
		width:    80,
	}
	a.snap = session.Snapshot()
	return a
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithContext(a.ctx))
	_, err := p.Run()
	a.session.Wait()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.frameCmd(),
		a.checkDaemon(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.mode == modeResolve {
			return a, a.updateResolveDialog(msg)
		}
		return a, a.updateScene(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case frameMsg:
		a.session.Update()
		a.snap = a.session.Snapshot()
		return a, a.frameCmd()

	case daemonStatusMsg:
		a.daemonOnline = msg.online
		return a, a.daemonTick()

	case daemonTickMsg:
		return a, a.checkDaemon()
	}
	return a, nil
}

func (a *App) updateScene(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c", "q":
		return tea.Quit

	case "t":
		pose := models.IdentityPose()
		// Successive taps land on different spots of the plane.
		pose.Position = [3]float32{0.25 * float32(a.taps), 0, -1}
		if a.session.OnPlaneTap(a.ctx, pose) {
			a.taps++
		}

	case "r":
		if !a.snap.ResolveEnabled {
			return nil
		}
		a.mode = modeResolve
		a.input.SetValue("")
		return a.input.Focus()

	case "c":
		a.session.OnClear()
	}
	a.snap = a.session.Snapshot()
	return nil
}

func (a *App) updateResolveDialog(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyCtrlC:
		return tea.Quit

	case tea.KeyEsc:
		a.closeDialog()
		return nil

	case tea.KeyEnter:
		value := strings.TrimSpace(a.input.Value())
		if value == "" {
			return nil
		}
		code, err := models.ParseCode(value)
		if err != nil || !code.Valid() {
			return nil
		}
		a.closeDialog()
		a.session.OnShortCodeEntered(a.ctx, code)
		a.snap = a.session.Snapshot()
		return nil

	case tea.KeyRunes:
		for _, r := range msg.Runes {
			if r < '0' || r > '9' {
				return nil
			}
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return cmd
}

func (a *App) closeDialog() {
	a.mode = modeScene
	a.input.Blur()
	a.input.SetValue("")
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	header := titleStyle.Render("Cloud Anchors")
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[%s]", a.backend))
	if a.daemon != nil {
		if a.daemonOnline {
			header += "  " + onlineStyle.Render("● DAEMON")
		} else {
			header += "  " + offlineStyle.Render("○ DAEMON")
		}
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	b.WriteString(panelStyle.Render(a.renderScene()))
	b.WriteString("\n")

	// Message bar
	if a.snap.Message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.snap.Message, "Error") || strings.HasPrefix(a.snap.Message, "Unable") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(msgStyle.Render(a.snap.Message))
	}
	b.WriteString("\n")

	if a.mode == modeResolve {
		b.WriteString(inputBoxStyle.Render("Resolve short code: " + a.input.View()))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("Enter:resolve | Esc:cancel"))
		b.WriteString("\n")
	}

	resolve := "r:resolve"
	if !a.snap.ResolveEnabled {
		resolve = "r:-"
	}
	status := fmt.Sprintf(" Pending: %d | t:tap plane | %s | c:clear | q:quit", a.snap.Pending, resolve)
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderScene() string {
	anchor := a.snap.Anchor
	if anchor == nil {
		return helpStyle.Render("No anchor. Tap a plane to host one, or resolve a short code.")
	}

	var b strings.Builder
	kind := "Hosted anchor"
	if anchor.Resolved {
		kind = "Resolved anchor"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(kind) + "\n")
	b.WriteString(fmt.Sprintf("Position: (%.2f, %.2f, %.2f)\n", anchor.Pose.Position[0], anchor.Pose.Position[1], anchor.Pose.Position[2]))
	b.WriteString("State:    " + formatState(anchor.State) + "\n")
	if anchor.CloudAnchorID != "" {
		b.WriteString("Cloud ID: " + anchor.CloudAnchorID + "\n")
	}
	if anchor.Code.Valid() {
		b.WriteString("Code:     " + anchor.Code.String())
	} else {
		b.WriteString("Code:     -")
	}
	return b.String()
}

func formatState(state models.CloudAnchorState) string {
	switch {
	case state == models.StateSuccess:
		return onlineStyle.Render(string(state))
	case state.IsError():
		return offlineStyle.Render(string(state))
	case state == "":
		return lipgloss.NewStyle().Foreground(mutedColor).Render("-")
	default:
		return lipgloss.NewStyle().Foreground(warningColor).Render(string(state))
	}
}

func (a *App) frameCmd() tea.Cmd {
	return tea.Tick(a.interval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (a *App) checkDaemon() tea.Cmd {
	if a.daemon == nil {
		return nil
	}
	return func() tea.Msg {
		health, err := a.daemon.Health(a.ctx)
		return daemonStatusMsg{online: err == nil && health != nil && health.OK}
	}
}

func (a *App) daemonTick() tea.Cmd {
	return tea.Tick(daemonPollInterval, func(t time.Time) tea.Msg {
		return daemonTickMsg(t)
	})
}
