// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"qanoon/internal/answer"
	"qanoon/internal/types"
)

// chatModel is the model for the interactive chat interface
type chatModel struct {
	// UI Components
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer

	// State
	history   []chatMessage
	isLoading bool
	err       error
	width     int
	height    int
	ready     bool

	// Session State
	session *types.ActiveSession

	// Backend
	deps *engineDeps
}

type chatMessage struct {
	role    string // "user" or "assistant"
	content string
	time    time.Time
}

// Messages for tea updates
type (
	responseMsg string
	errorMsg    error
)

var (
	userLabelStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("12")).MarginTop(1)
	botLabelStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("10")).MarginTop(1)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("55")).Padding(0, 1)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// initChat initializes the interactive chat model
func initChat(deps *engineDeps) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask a legal question... (Enter to send, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 2048
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warningStyle

	vp := viewport.New(80, 20)
	vp.SetContent("")

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	sess := &types.ActiveSession{
		SessionID: uuid.NewString(),
		UpdatedAt: time.Now(),
	}

	return chatModel{
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		renderer:  renderer,
		history:   []chatMessage{},
		session:   sess,
		deps:      deps,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
	)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			if !m.isLoading {
				return m.handleSubmit()
			}
		}

		if !m.isLoading {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		footerHeight := 2
		inputHeight := 3

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight - inputHeight
		}

		m.textinput.Width = msg.Width - 4

		if m.renderer != nil {
			m.renderer, _ = glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(msg.Width-8),
			)
		}

	case spinner.TickMsg:
		if m.isLoading {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case responseMsg:
		m.isLoading = false
		m.history = append(m.history, chatMessage{
			role:    "assistant",
			content: string(msg),
			time:    time.Now(),
		})
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()

	case errorMsg:
		m.isLoading = false
		m.err = msg
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

// handleSubmit sends the current input as a question or slash command
func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}

	m.history = append(m.history, chatMessage{
		role:    "user",
		content: input,
		time:    time.Now(),
	})
	m.textinput.Reset()
	m.err = nil
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()

	if strings.HasPrefix(input, "/") {
		return m.handleSlashCommand(input)
	}

	m.isLoading = true
	return m, tea.Batch(m.spinner.Tick, m.askQuestion(input))
}

// handleSlashCommand processes /law, /session, /unbind, /help
func (m chatModel) handleSlashCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.SplitN(input, " ", 2)
	cmd := strings.ToLower(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	respond := func(content string) (tea.Model, tea.Cmd) {
		m.history = append(m.history, chatMessage{
			role:    "assistant",
			content: content,
			time:    time.Now(),
		})
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil
	}

	switch cmd {
	case "/help":
		return respond(`**Commands**

- ` + "`/law <query>`" + ` - search the curated statute corpus
- ` + "`/session`" + ` - show the session id and bound case
- ` + "`/unbind`" + ` - release the active case binding
- ` + "`/quit`" + ` - exit

Anything else is answered against the case knowledge base. Asking about a
specific case (for example "details for W.P. 1234/2024") binds the session
to it; follow-up questions then answer from that case until you name
another one or /unbind.`)

	case "/law":
		if arg == "" {
			return respond("Usage: `/law <query>`")
		}
		results := m.deps.orch.LawInfo(arg)
		if len(results) == 0 {
			return respond(fmt.Sprintf("No statutes matched %q.", arg))
		}
		var b strings.Builder
		fmt.Fprintf(&b, "**%d statute(s) matched:**\n\n", len(results))
		for i, r := range results {
			e := r.Entry
			fmt.Fprintf(&b, "### %d. %s\n\n", i+1, e.Title)
			if len(e.Sections) > 0 {
				fmt.Fprintf(&b, "- **Sections:** %s\n", strings.Join(e.Sections, ", "))
			}
			if e.Punishment != "" {
				fmt.Fprintf(&b, "- **Punishment:** %s\n", e.Punishment)
			}
			if e.Rights != "" {
				fmt.Fprintf(&b, "- **Rights:** %s\n", e.Rights)
			}
			if e.WhatToDo != "" {
				fmt.Fprintf(&b, "- **What to do:** %s\n", e.WhatToDo)
			}
			b.WriteString("\n")
		}
		return respond(b.String())

	case "/session":
		bound := "none"
		if m.session.BoundCaseID != nil {
			bound = fmt.Sprintf("case %d", *m.session.BoundCaseID)
		}
		return respond(fmt.Sprintf("Session `%s`, %d turn(s), active case: %s",
			m.session.SessionID, len(m.session.History), bound))

	case "/unbind":
		m.session.BoundCaseID = nil
		return respond("Active case binding released.")

	case "/quit", "/exit":
		return m, tea.Quit

	default:
		return respond(fmt.Sprintf("Unknown command %q. Try `/help`.", cmd))
	}
}

// askQuestion runs the retrieval pipeline off the UI goroutine
func (m chatModel) askQuestion(question string) tea.Cmd {
	sess := m.session
	deps := m.deps
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		results := deps.orch.RetrieveForSession(ctx, sess, question, cfg.Retrieval.FinalK, nil)
		text, err := answer.Passthrough{}.Generate(ctx, answer.BuildPrompt(question, results, sess))
		if err != nil {
			return errorMsg(err)
		}
		return responseMsg(text)
	}
}

func (m chatModel) renderHistory() string {
	var sb strings.Builder

	for _, msg := range m.history {
		if msg.role == "user" {
			sb.WriteString(userLabelStyle.Render("You") + "\n")
			sb.WriteString(msg.content)
			sb.WriteString("\n\n")
		} else {
			sb.WriteString(botLabelStyle.Render("⚖ qanoon") + "\n")
			sb.WriteString(m.safeRenderMarkdown(msg.content))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery
func (m chatModel) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer != nil && content != "" {
		rendered, err := m.renderer.Render(content)
		if err == nil {
			return rendered
		}
	}
	return content
}

func (m chatModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := m.renderHeader()

	chatView := m.viewport.View()
	if m.isLoading {
		chatView += "\n" + m.spinner.View() + " Retrieving..."
	}
	if m.err != nil {
		chatView += "\n" + errorStyle.Render("Error: "+m.err.Error())
	}

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("10")).
		Padding(0, 1)
	inputArea := inputStyle.Render(m.textinput.View())

	footer := mutedStyle.Render("Enter: send • /help: commands • Ctrl+C: exit")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		chatView,
		inputArea,
		footer,
	)
}

func (m chatModel) renderHeader() string {
	title := headerStyle.Render(" ⚖ qanoon ")

	var status string
	if m.isLoading {
		status = warningStyle.Render("● Retrieving")
	} else {
		status = successStyle.Render("● Ready")
	}

	bound := ""
	if m.session.BoundCaseID != nil {
		bound = mutedStyle.Render(fmt.Sprintf("  case %d", *m.session.BoundCaseID))
	}

	headerLine := lipgloss.JoinHorizontal(
		lipgloss.Center,
		title,
		"  ",
		status,
		bound,
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		headerLine,
		mutedStyle.Render(strings.Repeat("─", max(m.width, 1))),
	)
}

// runChat starts the interactive chat interface
func runChat() error {
	deps, err := buildDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if cfg.Statute.WatchCorpus && deps.statutes != nil {
		go func() {
			_ = deps.statutes.Watch(watchCtx)
		}()
	}

	p := tea.NewProgram(
		initChat(deps),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	_, err = p.Run()
	return err
}
