// Package dashboard renders a live tcell terminal view of every
// registered agent's status, and one agent's reconstructed screen via
// internal/vt100, adapted from the teacher's tcell-based TUI down to
// just what a supervising operator needs: who's running, who isn't, and
// what a given agent's terminal currently shows.
package dashboard

import (
	"fmt"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/term"

	"github.com/duetctl/duet/internal/vt100"
)

// AgentStatus is one row of the dashboard's agent table.
type AgentStatus struct {
	Name    string
	Running bool
}

// StatusSource supplies the live agent table, the same snapshot-style
// query the session driver's monitor already performs.
type StatusSource interface {
	StatusAll() []AgentStatus
}

// Dashboard is a tcell-based live view, refreshed on a timer until Quit
// is called or 'q' is pressed.
type Dashboard struct {
	screen tcell.Screen
	source StatusSource

	quit chan struct{}
}

// New creates (but does not start) a dashboard screen. It first confirms
// stdout is a real terminal it can size, the same guard the teacher used
// before any interactive TTY flow (there: term.IsTerminal before an OAuth
// device-code prompt; here: term.GetSize before taking over the screen).
func New(source StatusSource) (*Dashboard, error) {
	if _, _, err := term.GetSize(int(os.Stdout.Fd())); err != nil {
		return nil, fmt.Errorf("dashboard requires a terminal on stdout: %w", err)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("create screen: %w", err)
	}
	return newWithScreen(source, screen)
}

// newWithScreen builds a Dashboard around an already-constructed screen,
// letting tests drive it with a tcell.SimulationScreen instead of a real
// terminal (bypassing New's terminal check, which a simulation screen
// would otherwise fail).
func newWithScreen(source StatusSource, screen tcell.Screen) (*Dashboard, error) {
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("init screen: %w", err)
	}
	screen.Clear()

	return &Dashboard{screen: screen, source: source, quit: make(chan struct{})}, nil
}

// Run draws the agent table, refreshing twice a second, until Quit is
// called or the operator presses 'q' or Ctrl-C.
func (d *Dashboard) Run() {
	defer d.screen.Fini()

	events := make(chan tcell.Event, 8)
	go d.screen.ChannelEvents(events, d.quit)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	d.draw()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			d.draw()
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
					return
				}
			case *tcell.EventResize:
				d.screen.Sync()
			}
		}
	}
}

// Quit stops Run.
func (d *Dashboard) Quit() {
	close(d.quit)
}

func (d *Dashboard) draw() {
	d.screen.Clear()
	style := tcell.StyleDefault

	drawText(d.screen, 0, 0, style.Bold(true), "duet — registered agents")
	row := 2
	for _, s := range d.source.StatusAll() {
		state := "stopped"
		rowStyle := style.Foreground(tcell.ColorRed)
		if s.Running {
			state = "running"
			rowStyle = style.Foreground(tcell.ColorGreen)
		}
		drawText(d.screen, 0, row, rowStyle, fmt.Sprintf("%-20s %s", s.Name, state))
		row++
	}
	drawText(d.screen, 0, row+1, style.Foreground(tcell.ColorGray), "press q to quit")
	d.screen.Show()
}

func drawText(s tcell.Screen, x, y int, style tcell.Style, text string) {
	for i, r := range text {
		s.SetContent(x+i, y, r, nil, style)
	}
}

// RenderAgentScreen reconstructs parser's current screen as plain text
// lines, for the session driver's "/screen <agent>" command.
func RenderAgentScreen(parser *vt100.Parser) []string {
	return parser.GetScreen()
}
