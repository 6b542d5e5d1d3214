// Package render draws switch-state diagrams and pulse history for the
// terminal.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/qphox/cryoswitch"
)

var (
	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	ClosedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	OpenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	WarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// Diagram renders one port as an SP6T ascii schematic: closed contacts are
// drawn wired to the common rail, open ones broken.
//
//	Port A state
//	1 -  -│
//	2 -  -│
//	3 ----┐
//	4 -  -│
//	5 -  -│
//	6 -  -│
//	      └- COM
func Diagram(port string, state cryoswitch.PortState) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Port "+port+" state") + "\n")
	for contact := 1; contact <= 6; contact++ {
		key := fmt.Sprintf("contact_%d", contact)
		if state[key] != 0 {
			joint := '┤' // ┤
			if contact == 1 {
				joint = '┐' // ┐
			}
			b.WriteString(ClosedStyle.Render(fmt.Sprintf("%d ----%c", contact, joint)) + "\n")
		} else {
			b.WriteString(OpenStyle.Render(fmt.Sprintf("%d -  -│", contact)) + "\n")
		}
	}
	b.WriteString("      └- COM\n")
	return b.String()
}

// Board renders every port of a board state in port order.
func Board(state cryoswitch.BoardState, ports string) string {
	var b strings.Builder
	for _, p := range ports {
		if ps, ok := state[fmt.Sprintf("port_%c", p)]; ok {
			b.WriteString(Diagram(string(p), ps))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// History renders pulse-log events, most recent last, flagging low-current
// actuations.
func History(events []cryoswitch.PulseEvent) string {
	var b strings.Builder
	for _, ev := range events {
		line := ev.Line()
		if ev.LowCurrent {
			line = WarnStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
