package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"txflow/internal/ports"
	"txflow/internal/usecase/journal"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func renderEntries(items []ports.JournalEntry) string {
	if len(items) == 0 {
		return dimStyle.Render("no journal entries") + "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%-6s %-14s %-20s %12s  %s", "ID", "ACCOUNT", "REFERENCE", "AMOUNT", "MEMO")))
	b.WriteString("\n")
	for _, item := range items {
		line := fmt.Sprintf("%-6d %-14s %-20s %12d  %s", item.EntryID, item.Account, item.Reference, item.Amount, item.Memo)
		b.WriteString(line)
		if item.BatchID != "" {
			b.WriteString(" " + dimStyle.Render("batch="+item.BatchID))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderAudit(items []ports.JournalAudit) string {
	if len(items) == 0 {
		return dimStyle.Render("no audit rows") + "\n"
	}

	var b strings.Builder
	for _, item := range items {
		b.WriteString(fmt.Sprintf("%s %s %s %s\n",
			dimStyle.Render(item.CreatedAt), item.BatchID, titleStyle.Render(item.Action), item.Detail))
	}
	return b.String()
}

func renderImportResult(result journal.ImportResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("batch "+result.BatchID) + "\n")
	if result.RolledBack {
		b.WriteString(warnStyle.Render(fmt.Sprintf("rolled back: %d rejected entries in atomic import", len(result.Rejected))) + "\n")
	} else {
		b.WriteString(okStyle.Render(fmt.Sprintf("accepted: %d", len(result.Accepted))) + "\n")
	}
	for _, r := range result.Rejected {
		b.WriteString(warnStyle.Render(fmt.Sprintf("rejected #%d %s: %s", r.Index, r.Reference, r.Reason)) + "\n")
	}
	return b.String()
}
