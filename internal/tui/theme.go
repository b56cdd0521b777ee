package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Core palette
	Green       = lipgloss.Color("#00FF41")
	BrightGreen = lipgloss.Color("#39FF14")
	MedGreen    = lipgloss.Color("#00C832")
	DarkGreen   = lipgloss.Color("#008F11")
	DimGreen    = lipgloss.Color("#003B00")
	Cyan        = lipgloss.Color("#00D4AA")
	MidGray     = lipgloss.Color("#3a3a4e")
	White       = lipgloss.Color("#e0e0e0")
	Gold        = lipgloss.Color("#FFD700")
	Red         = lipgloss.Color("#FF4136")

	// Section headings
	BannerStyle = lipgloss.NewStyle().
			Foreground(Green).
			Bold(true)

	HeadingStyle = lipgloss.NewStyle().
			Foreground(Cyan).
			Bold(true)

	// Key/value listings
	LabelStyle = lipgloss.NewStyle().
			Foreground(MedGreen).
			Bold(true)

	ValueStyle = lipgloss.NewStyle().
			Foreground(White)

	// Keys, ids and collection names
	KeyStyle = lipgloss.NewStyle().
			Foreground(BrightGreen)

	// Secondary information: TTLs, timestamps, latencies
	MutedStyle = lipgloss.NewStyle().
			Foreground(MidGray)

	OKStyle = lipgloss.NewStyle().
		Foreground(Green).
		Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Gold).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red).
			Bold(true)

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(DimGreen)

	// Help text
	HelpStyle = lipgloss.NewStyle().
			Foreground(DarkGreen)

	// Document boxes in `docs` output
	DocumentStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(DarkGreen).
			Padding(0, 1)
)

const Banner = `
  ┌─┐┌─┐┌┬┐┌─┐┌─┐┌┐┌┬┌─┐┌┐┌  ┌─┐┌┬┐┌─┐┬─┐┌─┐
  │  │ ││││├─┘├─┤││││││ ││││  └─┐ │ │ │├┬┘├┤
  └─┘└─┘┴ ┴┴  ┴ ┴┘└┘┴└─┘┘└┘  └─┘ ┴ └─┘┴└─└─┘
`
