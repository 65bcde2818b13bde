package common

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// Colors for dark and light backgrounds.
var (
	Indigo       = lipgloss.AdaptiveColor{Dark: "#7571F9", Light: "#5A56E0"}
	SubtleIndigo = lipgloss.AdaptiveColor{Dark: "#514DC1", Light: "#7D79F6"}
	Cream        = lipgloss.AdaptiveColor{Dark: "#FFFDF5", Light: "#FFFDF5"}
	Fuschia      = lipgloss.AdaptiveColor{Dark: "#EE6FF8", Light: "#EE6FF8"}
	Green        = lipgloss.AdaptiveColor{Dark: "#04B575", Light: "#04B575"}
	Yellow       = lipgloss.AdaptiveColor{Dark: "#ECFD65", Light: "#C9A800"}
	Red          = lipgloss.AdaptiveColor{Dark: "#ED567A", Light: "#FF4672"}
	Grey         = lipgloss.AdaptiveColor{Dark: "#777777", Light: "#A49FA5"}
)

var (
	TitleStyle    = lipgloss.NewStyle().Foreground(Cream).Background(Indigo).Padding(0, 1)
	SubtitleStyle = lipgloss.NewStyle().Foreground(Cream).Background(SubtleIndigo).Padding(0, 1)
	HeaderStyle   = lipgloss.NewStyle().Bold(true).Foreground(Indigo)
	ChangedStyle  = lipgloss.NewStyle().Foreground(Green)
	KeptStyle     = lipgloss.NewStyle().Foreground(Grey)
	SkippedStyle  = lipgloss.NewStyle().Foreground(Yellow)
	ErrorMsgStyle = lipgloss.NewStyle().Foreground(Red)
	SpinnerStyle  = lipgloss.NewStyle().Foreground(Fuschia)
)

var Spinner = spinner.Dot
