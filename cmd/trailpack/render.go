package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/trailpack/trailpack/internal/inspiration"
	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/livesync"
	"github.com/trailpack/trailpack/internal/mutation"
	"github.com/trailpack/trailpack/internal/session"
)

var (
	accent = lipgloss.Color("#8BC34A")
	muted  = lipgloss.Color("#6B7A8F")
	danger = lipgloss.Color("#E53935")
	warn   = lipgloss.Color("#FFC107")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	checkedStyle = lipgloss.NewStyle().Foreground(muted).Strikethrough(true)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(danger)
	warnStyle    = lipgloss.NewStyle().Foreground(warn)
	cardStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1)
)

// renderList draws one list as a card. Items are numbered from 1, the way
// the item commands address them.
func renderList(l lists.EquipmentList, submitting bool) string {
	var b strings.Builder
	header := titleStyle.Render(l.Title) + "  " + mutedStyle.Render(l.Completion())
	if submitting {
		header += "  " + warnStyle.Render("saving…")
	}
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("id " + l.ID))
	if len(l.Items) == 0 {
		b.WriteString("\n" + mutedStyle.Render("(no items)"))
	}
	for i, item := range l.Items {
		line := fmt.Sprintf("%2d. [ ] %s", i+1, item.Name)
		if item.Checked {
			line = checkedStyle.Render(fmt.Sprintf("%2d. [x] %s", i+1, item.Name))
		}
		b.WriteString("\n")
		b.WriteString(line)
	}
	return cardStyle.Render(b.String())
}

// renderLists draws every list, or a hint when there are none.
func renderLists(ls []lists.EquipmentList, submitting func(id string) bool) string {
	if len(ls) == 0 {
		return mutedStyle.Render("No equipment lists yet. Create one with `trailpack create`.")
	}
	cards := make([]string, 0, len(ls))
	for _, l := range ls {
		cards = append(cards, renderList(l, submitting != nil && submitting(l.ID)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, cards...)
}

func renderIdentity(id session.Identity) string {
	name := id.DisplayName
	if name == "" {
		name = id.Email
	}
	return titleStyle.Render(name) + "\n" +
		mutedStyle.Render("email "+id.Email) + "\n" +
		mutedStyle.Render("uid   "+id.ID)
}

func renderInspiration(entries []inspiration.Entry) string {
	if len(entries) == 0 {
		return mutedStyle.Render("No trip ideas match.")
	}
	rows := make([]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, titleStyle.Render(e.Title)+"\n"+e.Description+"\n"+mutedStyle.Render(e.ImageURL))
	}
	return strings.Join(rows, "\n\n")
}

func renderState(st livesync.State) string {
	switch st {
	case livesync.Streaming:
		return titleStyle.Render("● live")
	case livesync.Failed:
		return errorStyle.Render("● disconnected")
	default:
		return mutedStyle.Render("● " + st.String())
	}
}

// userMessage prefers the short text the client core attaches to its errors.
func userMessage(err error) string {
	var authErr *session.AuthError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	var mutErr *mutation.MutationError
	if errors.As(err, &mutErr) {
		switch mutErr.Kind {
		case mutation.KindNetworkFailure:
			return "Could not reach the server. Your change was not saved."
		case mutation.KindConflict:
			return "The list changed in the meantime. Refresh and try again."
		case mutation.KindPermissionDenied:
			return "You are not allowed to change this list. Are you signed in?"
		}
		return mutErr.Error()
	}
	var subErr *livesync.SubscriptionError
	if errors.As(err, &subErr) {
		return "Live updates stopped: " + subErr.Err.Error()
	}
	return err.Error()
}
