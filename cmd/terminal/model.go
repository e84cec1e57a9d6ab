package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const asciiLogo = `
╔══════════════════════════════════════════════════════════════════╗
║                                                                  ║
║   ███████╗ ██████╗ ██████╗ ███╗   ███╗██████╗ ██╗   ██╗██╗      ║
║   ██╔════╝██╔═══██╗██╔══██╗████╗ ████║██╔══██╗██║   ██║██║      ║
║   █████╗  ██║   ██║██████╔╝██╔████╔██║██████╔╝██║   ██║██║      ║
║   ██╔══╝  ██║   ██║██╔══██╗██║╚██╔╝██║██╔═══╝ ██║   ██║██║      ║
║   ██║     ╚██████╔╝██║  ██║██║ ╚═╝ ██║██║     ╚██████╔╝███████╗ ║
║   ╚═╝      ╚═════╝ ╚═╝  ╚═╝╚═╝     ╚═╝╚═╝      ╚═════╝ ╚══════╝ ║
║                                                                  ║
║                 FORM WORKFLOW CONTROL ROOM v1.0                  ║
║                                                                  ║
╚══════════════════════════════════════════════════════════════════╝
`

const runListLimit = 25

type model struct {
	styles styles
	client *apiClient

	// UI Components
	viewport  viewport.Model
	textarea  textarea.Model
	spinner   spinner.Model
	isLoading bool
	width     int

	// Session State
	runs        []runView
	selectedRun string
	history     []string
	connected   bool
}

func initialModel(theme ThemeName, serverURL string) *model {
	styles := GetTheme(theme)
	ta := textarea.New()
	ta.Placeholder = "Enter command (/help for options)..."
	ta.Focus()
	ta.Prompt = styles.prompt.Render("► ")
	ta.CharLimit = 200
	ta.SetWidth(50)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))

	return &model{
		styles:    styles,
		client:    newAPIClient(serverURL),
		textarea:  ta,
		spinner:   sp,
		isLoading: true,
		width:     80,
		history:   []string{styles.ascii.Render(asciiLogo), "", "⚙ CONNECTING TO FORMPULSE..."},
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(loadRunsCmd(m.client, runListLimit), pollCmd(), m.spinner.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	m.spinner, spCmd = m.spinner.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}

			m.textarea.Reset()
			return m, m.processCommand(input)
		}

	case pollTickMsg:
		return m, tea.Batch(loadRunsCmd(m.client, runListLimit), pollCmd())

	case runsLoadedMsg:
		m.isLoading = false
		if msg.err != nil {
			if m.connected {
				m.appendHistory(m.styles.error.Render("⚠ Lost connection: " + msg.err.Error()))
			}
			m.connected = false
			return m, nil
		}
		firstLoad := !m.connected
		m.connected = true
		m.runs = msg.runs
		if firstLoad {
			m.appendHistory(
				m.styles.success.Render("✓ CONNECTED"),
				"",
				m.renderRunTable(),
				"",
				"Type /help for commands.",
			)
		}
		return m, nil

	case runLoadedMsg:
		m.isLoading = false
		if msg.err != nil {
			m.appendHistory(m.styles.error.Render("⚠ " + msg.err.Error()))
			return m, nil
		}
		m.selectedRun = msg.workUnitID
		m.appendHistory(msg.rendered)
		return m, nil

	case creditsLoadedMsg:
		m.isLoading = false
		if msg.err != nil {
			m.appendHistory(m.styles.error.Render("⚠ " + msg.err.Error()))
			return m, nil
		}
		balance := fmt.Sprintf("Credits for %s: %.2f", msg.userID, msg.remaining)
		if msg.remaining <= 0 {
			m.appendHistory(m.styles.error.Render(balance))
		} else {
			m.appendHistory(m.styles.success.Render(balance))
		}
		return m, nil

	case errorMsg:
		m.isLoading = false
		m.appendHistory(m.styles.error.Render("⚠ " + msg.err.Error()))
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.styles.header.Width(msg.Width - 4)
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = msg.Height - 10
		m.textarea.SetWidth(msg.Width - 10)
		m.viewport.SetContent(strings.Join(m.history, "\n"))
	}

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m *model) View() string {
	var statusParts []string
	if m.connected {
		statusParts = append(statusParts, m.styles.success.Render("● ONLINE"))
	} else {
		statusParts = append(statusParts, m.styles.inactive.Render("○ OFFLINE"))
	}
	statusParts = append(statusParts, fmt.Sprintf("SERVER: %s", m.client.baseURL))
	if m.selectedRun != "" {
		statusParts = append(statusParts, fmt.Sprintf("RUN: %s", m.selectedRun))
	}
	statusParts = append(statusParts, fmt.Sprintf("RUNS: %d", len(m.runs)))

	status := m.styles.inactive.Render(strings.Join(statusParts, " │ "))

	var loadingIndicator string
	if m.isLoading {
		loadingIndicator = " " + m.spinner.View() + " " + m.styles.success.Render("WORKING...")
	}

	return m.styles.app.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.styles.viewport.Render(m.viewport.View()),
			"",
			m.styles.footer.Render(
				lipgloss.JoinHorizontal(lipgloss.Left,
					m.textarea.View(),
					loadingIndicator,
				),
			),
			status,
		),
	)
}

func (m *model) appendHistory(lines ...string) {
	m.history = append(m.history, "")
	m.history = append(m.history, lines...)
	m.viewport.SetContent(strings.Join(m.history, "\n"))
	m.viewport.GotoBottom()
}

func (m *model) renderRunTable() string {
	if len(m.runs) == 0 {
		return m.styles.inactive.Render("No runs recorded yet.")
	}

	var b strings.Builder
	b.WriteString(m.styles.success.Render("RECENT RUNS:"))
	for _, run := range m.runs {
		status := m.styles.inactive.Render(run.OverallStatus)
		switch run.OverallStatus {
		case "completed":
			status = m.styles.success.Render(run.OverallStatus)
		case "partial":
			status = m.styles.warn.Render(run.OverallStatus)
		case "failed":
			status = m.styles.error.Render(run.OverallStatus)
		}
		b.WriteString(fmt.Sprintf("\n  %s  %s  attempt %d  [%s]",
			m.styles.prompt.Render(run.WorkUnitID),
			m.styles.command.Render(run.EventType),
			run.AttemptNumber,
			status,
		))
	}
	b.WriteString("\n\n" + m.styles.inactive.Render("Use '/run [id]' to inspect a run."))
	return b.String()
}

func (m *model) processCommand(input string) tea.Cmd {
	m.history = append(m.history, m.styles.prompt.Render("► ")+input)
	m.viewport.SetContent(strings.Join(m.history, "\n"))
	m.viewport.GotoBottom()

	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}
	command := parts[0]
	args := parts[1:]

	switch command {
	case "/runs", "/ls":
		m.appendHistory(m.renderRunTable())
		return nil

	case "/run":
		if len(args) != 1 {
			m.appendHistory(m.styles.error.Render("USAGE: /run [work-unit-id]"))
			return nil
		}
		m.isLoading = true
		m.appendHistory(m.styles.command.Render("→ Fetching run " + args[0] + "..."))
		return tea.Batch(m.spinner.Tick, loadRunCmd(m.client, args[0], m.width-8))

	case "/credits":
		if len(args) != 1 {
			m.appendHistory(m.styles.error.Render("USAGE: /credits [user-id]"))
			return nil
		}
		m.isLoading = true
		return tea.Batch(m.spinner.Tick, loadCreditsCmd(m.client, args[0]))

	case "/refresh":
		m.isLoading = true
		return tea.Batch(m.spinner.Tick, loadRunsCmd(m.client, runListLimit))

	case "/help", "/h":
		helpText := m.styles.success.Render("AVAILABLE COMMANDS:") + `

  /runs, /ls           List the most recent orchestration runs.
  /run [id]            Show the full step report for one run.
  /credits [user-id]   Show a user's remaining AI credits.
  /refresh             Force an immediate run-list refresh.
  /help                Show this help message.
  /exit, /quit         Exit the control room.

  ` + m.styles.inactive.Render("TIP: the run list refreshes automatically every few seconds")
		m.appendHistory(helpText)
		return nil

	case "/exit", "/quit":
		return tea.Quit

	default:
		m.appendHistory(
			m.styles.error.Render(fmt.Sprintf("UNKNOWN COMMAND: %s", command)),
			m.styles.inactive.Render("Type /help for assistance."),
		)
		return nil
	}
}
