/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the Podplayer project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"podplayer/internal/events"
	"podplayer/internal/player"
	"podplayer/pkg/audiospec"
)

// transport is the part of the controller the debug screen drives.
type transport interface {
	TogglePause()
	SkipForwards()
	SkipBackwards()
	SetVolume(v float64)
	Volume() float64
}

type statusMsg player.PlayerStatus

type finishedMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	meterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type model struct {
	ctl      transport
	statuses <-chan events.Message
	title    string
	status   player.PlayerStatus
	bar      progress.Model
	finished bool
}

func newModel(ctl transport, statuses <-chan events.Message, title string) model {
	return model{
		ctl:      ctl,
		statuses: statuses,
		title:    title,
		status:   player.PlayerStatus{Loading: true},
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(48), progress.WithoutPercentage()),
	}
}

// waitStatus blocks on the hub until the next player-status message.
func waitStatus(ch <-chan events.Message) tea.Cmd {
	return func() tea.Msg {
		for msg := range ch {
			if msg.Event != audiospec.EventPlayerStatus {
				continue
			}
			st, ok := msg.Payload.(player.PlayerStatus)
			if !ok {
				continue
			}
			if st.Episode == nil {
				return finishedMsg{}
			}
			return statusMsg(st)
		}
		return finishedMsg{}
	}
}

func (m model) Init() tea.Cmd {
	return waitStatus(m.statuses)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "p", " ":
			m.ctl.TogglePause()
		case "f", "right":
			m.ctl.SkipForwards()
		case "b", "left":
			m.ctl.SkipBackwards()
		case "+", "=", "up":
			m.ctl.SetVolume(m.ctl.Volume() + 0.1)
		case "-", "down":
			m.ctl.SetVolume(m.ctl.Volume() - 0.1)
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-24, 10), 80)
		return m, nil
	case statusMsg:
		m.status = player.PlayerStatus(msg)
		return m, waitStatus(m.statuses)
	case finishedMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	if m.finished {
		return dimStyle.Render("■ finished") + "\n"
	}
	st := m.status

	state := "▶"
	if st.IsPaused {
		state = "⏸"
	}
	if st.Loading {
		state = "…"
	}

	ratio := 0.0
	if st.Duration > 0 {
		ratio = min(float64(st.Elapsed)/float64(st.Duration), 1)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s %s %s / %s\n", state, m.bar.ViewAs(ratio), clock(st.Elapsed), clock(st.Duration))
	fmt.Fprintf(&b, "vol %3.0f%%  %s\n", m.ctl.Volume()*100, meterStyle.Render(strings.Repeat("█", int(st.Level*40))))
	if len(st.Spectrum) > 0 {
		b.WriteString(meterStyle.Render(bars(st.Spectrum)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("p pause/resume  f +30s  b -15s  +/- volume  q quit"))
	return boxStyle.Render(b.String()) + "\n"
}

func clock(sec int64) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, sec/60%60, sec%60)
}

// bars renders normalised band magnitudes as block characters.
func bars(bands []float64) string {
	runes := []rune(" ▁▂▃▄▅▆▇█")
	var b strings.Builder
	for _, v := range bands {
		v = min(max(v, 0), 1)
		b.WriteRune(runes[int(v*float64(len(runes)-1))])
	}
	return b.String()
}
