package chat

import (
	"fmt"
	"net"

	"github.com/charmbracelet/lipgloss"
)

var (
	senderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// FormatInbound renders one inbound message tagged with its sender.
func FormatInbound(from *net.UDPAddr, text string) string {
	return fmt.Sprintf("%s %s", senderStyle.Render("["+from.String()+"]"), text)
}

// FormatNotice renders a session status line.
func FormatNotice(text string) string {
	return noticeStyle.Render(text)
}

// FormatError renders a non-fatal session error.
func FormatError(err error) string {
	return errorStyle.Render("! " + err.Error())
}
