package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tabletop-sync/lifesync/internal/models"
	"github.com/tabletop-sync/lifesync/internal/ramp"
	"github.com/tabletop-sync/lifesync/internal/reconcile"
)

const helpText = `commands:
  +N | -N [who]                  change life
  add <counter> <N> [who]        change poison, energy, experience or life
  set <counter> <value> [who]    numeric entry; non-numeric input is ignored
  cmd <from> <N> [who]           commander damage dealt by <from>
  daynight day|night|none|toggle [who|all]
  hold up|down <duration> [who]  press and hold on life, e.g. hold down 3s
  reset                          reset every counter
  format                         switch between commander and standard life
  show                           print the table
  quit`

// shell runs line commands against one reconciler. Commands default to the
// local participant when no target is named.
type shell struct {
	rec   *reconcile.Reconciler
	ramps *ramp.Controller
	self  string
	out   io.Writer
	sleep func(time.Duration)
}

// exec runs one command line. It reports true when the user asked to quit.
func (s *shell) exec(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	if strings.HasPrefix(cmd, "+") || strings.HasPrefix(cmd, "-") {
		n, err := strconv.Atoi(cmd)
		if err != nil {
			return false, fmt.Errorf("bad amount %q", cmd)
		}
		who, err := s.target(args, 0)
		if err != nil {
			return false, err
		}
		return false, s.rec.ApplyDelta(who, models.Life, n)
	}

	switch cmd {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprintln(s.out, helpText)
		return false, nil
	case "show":
		s.render()
		return false, nil
	case "reset":
		return false, s.rec.ResetSession()
	case "format":
		return false, s.rec.ToggleFormat()
	case "add", "set":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: %s <counter> <value> [who]", cmd)
		}
		counter, err := models.ParseCounter(args[0])
		if err != nil {
			return false, err
		}
		who, err := s.target(args, 2)
		if err != nil {
			return false, err
		}
		if cmd == "set" {
			return false, s.rec.SetAbsoluteInput(who, counter, args[1])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return false, fmt.Errorf("bad amount %q", args[1])
		}
		return false, s.rec.ApplyDelta(who, counter, n)
	case "cmd":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: cmd <from> <N> [who]")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return false, fmt.Errorf("bad amount %q", args[1])
		}
		who, err := s.target(args, 2)
		if err != nil {
			return false, err
		}
		return false, s.rec.ApplyDelta(who, models.CommanderDamage(args[0]), n)
	case "daynight":
		return false, s.dayNight(args)
	case "hold":
		return false, s.hold(args)
	}
	return false, fmt.Errorf("unknown command %q (try help)", cmd)
}

func (s *shell) target(args []string, i int) (string, error) {
	if len(args) <= i {
		return s.self, nil
	}
	if len(args) > i+1 {
		return "", fmt.Errorf("unexpected argument %q", args[i+1])
	}
	return args[i], nil
}

func (s *shell) dayNight(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: daynight day|night|none|toggle [who|all]")
	}
	mode := strings.ToLower(args[0])
	who, err := s.target(args, 1)
	if err != nil {
		return err
	}

	if mode == "toggle" {
		if who == "all" {
			return fmt.Errorf("toggle applies to one participant")
		}
		return s.rec.ToggleDayNight(who)
	}
	state, err := models.ParseDayNight(mode)
	if err != nil {
		return err
	}
	if who == "all" {
		return s.rec.SetDayNightAll(state)
	}
	return s.rec.SetDayNight(who, state)
}

func (s *shell) hold(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: hold up|down <duration> [who]")
	}
	var dir ramp.Direction
	switch strings.ToLower(args[0]) {
	case "up":
		dir = ramp.Up
	case "down":
		dir = ramp.Down
	default:
		return fmt.Errorf("direction must be up or down")
	}
	d, err := time.ParseDuration(args[1])
	if err != nil {
		return fmt.Errorf("bad duration %q", args[1])
	}
	who, err := s.target(args, 2)
	if err != nil {
		return err
	}
	if _, ok := s.rec.Session().Participant(who); !ok {
		return fmt.Errorf("no participant %q", who)
	}

	if !s.ramps.Press(who, models.Life, dir) {
		return fmt.Errorf("already holding")
	}
	s.sleep(d)
	s.ramps.Release(who, models.Life)
	return nil
}

func (s *shell) render() {
	render(s.out, s.rec.Session(), s.self)
}

// render prints the table in seat order.
func render(out io.Writer, session models.Session, self string) {
	header := fmt.Sprintf("%s %s #%d", session.Format, session.Status, session.LastUpdate)
	if session.Code != "" {
		header = "code " + session.Code + "  " + header
	}
	fmt.Fprintln(out, header)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tid\tname\tlife\tpoison\tenergy\texp\tday/night\tcommander")
	for _, p := range session.Participants {
		marker := ""
		if p.ID == self {
			marker = ">"
		}
		if p.IsHost {
			marker += "*"
		}
		c := p.Counters
		poison := strconv.Itoa(c.Poison)
		if c.Poison >= models.PoisonDisplayThreshold {
			poison += "!"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
			marker, p.ID, p.Name, c.Life, poison, c.Energy, c.Experience, c.DayNight, commanderSummary(c.CommanderDamage))
	}
	_ = tw.Flush()
}

func commanderSummary(damage map[string]int) string {
	from := make([]string, 0, len(damage))
	for id := range damage {
		from = append(from, id)
	}
	sort.Strings(from)
	parts := make([]string, len(from))
	for i, id := range from {
		parts[i] = fmt.Sprintf("%s:%d", id, damage[id])
	}
	return strings.Join(parts, " ")
}

// renderGames prints stored local games, most recent first.
func renderGames(out io.Writer, games []models.Session) {
	if len(games) == 0 {
		fmt.Fprintln(out, "No local games.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "id\tformat\tstatus\tupdate\tplayers")
	for _, g := range games {
		names := make([]string, len(g.Participants))
		for i, p := range g.Participants {
			names[i] = p.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t#%d\t%s\n", g.ID, g.Format, g.Status, g.LastUpdate, strings.Join(names, ", "))
	}
	_ = tw.Flush()
}
