package journalconsole

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"txflow/internal/domain/tx"
	"txflow/internal/ports"
)

const maxAuditLines = 8

// Reader is the read side of the journal service used by the console.
type Reader interface {
	List(ctx context.Context, filter ports.JournalEntryFilter) ([]ports.JournalEntry, error)
	ListAudit(ctx context.Context, batchID string) ([]ports.JournalAudit, error)
	LastEntryRef(ctx context.Context) (string, bool)
}

type Options struct {
	Account         string
	BatchID         string
	Limit           int
	RefreshInterval time.Duration
}

type journalModel struct {
	ctx             context.Context
	reader          Reader
	filter          ports.JournalEntryFilter
	refreshInterval time.Duration

	entries       []ports.JournalEntry
	selectedIndex int
	lastRef       string
	audit         []ports.JournalAudit
	auditBatch    string
	status        string
}

type entriesLoadedMsg struct {
	items   []ports.JournalEntry
	lastRef string
	err     error
}

type auditLoadedMsg struct {
	batchID string
	items   []ports.JournalAudit
	err     error
}

type tickMsg struct{}

func NewJournalModel(ctx context.Context, reader Reader, options Options) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	limit := options.Limit
	if limit <= 0 {
		limit = 50
	}

	return &journalModel{
		ctx:    ctx,
		reader: reader,
		filter: ports.JournalEntryFilter{
			Account: strings.TrimSpace(options.Account),
			BatchID: strings.TrimSpace(options.BatchID),
			Limit:   limit,
		},
		refreshInterval: interval,
		status:          "loading",
	}
}

func (m *journalModel) Init() tea.Cmd {
	return tea.Batch(m.loadEntriesCmd(), m.tickCmd())
}

func (m *journalModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		return m, tea.Batch(m.loadEntriesCmd(), m.tickCmd())
	case entriesLoadedMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.entries = msg.items
		m.lastRef = msg.lastRef
		if len(m.entries) == 0 {
			m.selectedIndex = 0
			m.audit = nil
			m.auditBatch = ""
			m.status = "journal is empty"
			return m, nil
		}
		if m.selectedIndex >= len(m.entries) {
			m.selectedIndex = len(m.entries) - 1
		}
		m.status = fmt.Sprintf("refreshed, %d entries", len(m.entries))
		return m, m.loadSelectedAuditCmd()
	case auditLoadedMsg:
		selected, ok := m.selectedEntry()
		if !ok || selected.BatchID != msg.batchID {
			return m, nil
		}
		if msg.err != nil {
			m.audit = nil
			m.status = "audit load failed: " + msg.err.Error()
			return m, nil
		}
		m.audit = msg.items
		m.auditBatch = msg.batchID
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.status = "refreshing"
			return m, m.loadEntriesCmd()
		case "up", "k":
			if m.selectedIndex > 0 {
				m.selectedIndex--
				return m, m.loadSelectedAuditCmd()
			}
			return m, nil
		case "down", "j":
			if m.selectedIndex < len(m.entries)-1 {
				m.selectedIndex++
				return m, m.loadSelectedAuditCmd()
			}
			return m, nil
		}
	}
	return m, nil
}

func (m *journalModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))

	var builder strings.Builder
	builder.WriteString(titleStyle.Render("Journal Console"))
	builder.WriteString("\n")
	builder.WriteString(dimStyle.Render(fmt.Sprintf(
		"account=%s batch=%s limit=%d last=%s refresh=%s",
		firstNonEmpty(m.filter.Account, "all"),
		firstNonEmpty(m.filter.BatchID, "all"),
		m.filter.Limit,
		firstNonEmpty(m.lastRef, "-"),
		m.refreshInterval,
	)))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Entries"))
	builder.WriteString("\n")
	if len(m.entries) == 0 {
		builder.WriteString(dimStyle.Render("- no entries"))
		builder.WriteString("\n\n")
	} else {
		for index, item := range m.entries {
			line := fmt.Sprintf("#%d %s %s amount=%d batch=%s",
				item.EntryID, item.Account, item.Reference, item.Amount, firstNonEmpty(item.BatchID, "-"))
			if index == m.selectedIndex {
				builder.WriteString(selectedStyle.Render("> " + line))
			} else {
				builder.WriteString("  " + line)
			}
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Batch Audit"))
	builder.WriteString("\n")
	if len(m.audit) == 0 {
		builder.WriteString(dimStyle.Render("- no audit rows"))
		builder.WriteString("\n\n")
	} else {
		rows := m.audit
		if len(rows) > maxAuditLines {
			rows = rows[len(rows)-maxAuditLines:]
		}
		for _, row := range rows {
			builder.WriteString(fmt.Sprintf("- %s %s %s\n", row.CreatedAt, row.Action, row.Detail))
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Status"))
	builder.WriteString("\n")
	builder.WriteString("- " + firstNonEmpty(m.status, "ready"))
	builder.WriteString("\n\n")

	builder.WriteString(dimStyle.Render("Keys: up/k down/j move  g refresh  q quit"))
	return builder.String()
}

func (m *journalModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Commands run on their own goroutines, so each one reads through a detached registry.
func (m *journalModel) loadEntriesCmd() tea.Cmd {
	filter := m.filter
	return func() tea.Msg {
		ctx := tx.Detach(m.ctx)
		items, err := m.reader.List(ctx, filter)
		if err != nil {
			return entriesLoadedMsg{err: err}
		}
		lastRef, _ := m.reader.LastEntryRef(ctx)
		return entriesLoadedMsg{items: items, lastRef: lastRef}
	}
}

func (m *journalModel) loadSelectedAuditCmd() tea.Cmd {
	selected, ok := m.selectedEntry()
	if !ok || selected.BatchID == "" {
		m.audit = nil
		m.auditBatch = ""
		return nil
	}
	if selected.BatchID == m.auditBatch {
		return nil
	}

	batchID := selected.BatchID
	return func() tea.Msg {
		items, err := m.reader.ListAudit(tx.Detach(m.ctx), batchID)
		return auditLoadedMsg{batchID: batchID, items: items, err: err}
	}
}

func (m *journalModel) selectedEntry() (ports.JournalEntry, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.entries) {
		return ports.JournalEntry{}, false
	}
	return m.entries[m.selectedIndex], true
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
