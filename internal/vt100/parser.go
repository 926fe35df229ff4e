// Package vt100 reconstructs an agent's current terminal screen from its
// raw PTY output, for the session driver's "/screen <agent>" command and
// the dashboard's optional per-agent view. It wraps
// github.com/charmbracelet/x/vt, which handles the alternate screen
// buffer (CSI ?1049h/l) and carriage-return in-place updates (spinners,
// progress bars) that a naive line-by-line scan would get wrong.
package vt100

import (
	"github.com/charmbracelet/x/vt"
)

// Parser replays one agent's raw output through a VT100 emulator and
// reports back the resulting screen as plain text — exactly the subset
// an operator snapshot needs, with no styling, cursor, or scrollback
// tracking carried along.
type Parser struct {
	term vt.Terminal
	rows int
}

// New creates a parser sized to rows x cols, the dimensions the caller
// detected for the operator's own terminal (see internal/session's use of
// golang.org/x/term).
func New(rows, cols int) *Parser {
	return &Parser{term: vt.NewSafeEmulator(cols, rows), rows: rows}
}

// Process feeds a chunk of an agent's raw PTY output to the emulator.
func (p *Parser) Process(data []byte) {
	p.term.Write(data)
}

// GetScreen returns the reconstructed screen as plain text lines, one per
// emulator row, with no ANSI styling.
func (p *Parser) GetScreen() []string {
	lines := make([]string, p.rows)
	width := p.term.Width()
	for y := 0; y < p.rows; y++ {
		line := make([]rune, width)
		for x := 0; x < width; x++ {
			line[x] = ' '
			cell := p.term.CellAt(x, y)
			if cell == nil || cell.Content == "" {
				continue
			}
			if runes := []rune(cell.Content); len(runes) > 0 {
				line[x] = runes[0]
			}
		}
		lines[y] = string(line)
	}
	return lines
}
