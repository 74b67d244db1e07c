// Command lifesync is a line-driven table client. It hosts or joins a session
// on a lifesync server, or runs single-device games stored in SQLite that can
// be listed and resumed later.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tabletop-sync/lifesync/internal/apperrors"
	"github.com/tabletop-sync/lifesync/internal/client"
	"github.com/tabletop-sync/lifesync/internal/config"
	"github.com/tabletop-sync/lifesync/internal/models"
	"github.com/tabletop-sync/lifesync/internal/ramp"
	"github.com/tabletop-sync/lifesync/internal/reconcile"
	"github.com/tabletop-sync/lifesync/internal/service"
	"github.com/tabletop-sync/lifesync/internal/storage/sqlite"
	"github.com/tabletop-sync/lifesync/internal/telemetry"
	"github.com/tabletop-sync/lifesync/pkg/logger"
)

const listLimit = 20

type options struct {
	server   string
	mode     string
	id       string
	name     string
	format   string
	capacity int
	code     string
	players  string
	dbPath   string
	session  string
	strict   bool
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var opts options
	flag.StringVar(&opts.server, "server", cfg.ServerURL, "lifesync server URL")
	flag.StringVar(&opts.mode, "mode", "local", "create, join, local, list or resume")
	flag.StringVar(&opts.id, "id", "", "participant id (default: random)")
	flag.StringVar(&opts.name, "name", "", "display name")
	flag.StringVar(&opts.format, "format", "commander", "standard, commander, modern, brawl or other")
	flag.IntVar(&opts.capacity, "capacity", 4, "players at the table when hosting")
	flag.StringVar(&opts.code, "code", "", "join code")
	flag.StringVar(&opts.players, "players", "Player 1,Player 2", "comma separated names for a local game")
	flag.StringVar(&opts.dbPath, "db", cfg.SQLite.Path, "SQLite database for local games")
	flag.StringVar(&opts.session, "session", "", "local game id to resume")
	flag.BoolVar(&opts.strict, "strict", false, "panic on contract violations")
	flag.Parse()

	log := logger.New()
	log.SetDebug(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, "lifesync-client")
	if err != nil {
		log.Warn("Telemetry disabled", logger.Err(err))
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	if err := run(ctx, cfg, opts, log, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log *logger.Logger, in io.Reader, out io.Writer) error {
	format, err := models.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	if opts.id == "" {
		opts.id = uuid.NewString()
	}
	me := models.Identity{ID: opts.id, Name: opts.name}

	var (
		session models.Session
		remote  reconcile.Remote
		leave   func() error
	)

	switch opts.mode {
	case "create", "join":
		c := client.New(opts.server, log)
		if opts.mode == "create" {
			session, err = c.CreateSession(ctx, me, format, opts.capacity)
		} else {
			session, err = c.JoinSession(ctx, opts.code, me)
		}
		if err != nil {
			return err
		}
		remote = c
		leave = func() error {
			_, err := c.LeaveSession(context.Background(), session.ID, me.ID)
			return err
		}
		if opts.mode == "create" {
			fmt.Fprintf(out, "Share code %s with the table.\n", session.Code)
		}
	case "local", "resume":
		if opts.mode == "resume" && opts.session == "" {
			return fmt.Errorf("resume needs -session (see -mode list)")
		}
		store, err := sqlite.Open(opts.dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		svc := service.NewSessionService(store, log)
		if opts.mode == "local" {
			session, err = svc.CreateLocalSession(ctx, format, splitNames(opts.players))
		} else {
			session, err = svc.GetSession(ctx, opts.session)
		}
		if err != nil {
			return err
		}
		remote = svc
		me.ID = session.Participants[0].ID
		fmt.Fprintf(out, "Local game %s\n", session.ID)
	case "list":
		store, err := sqlite.Open(opts.dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		games, err := store.List(ctx, listLimit)
		if err != nil {
			return err
		}
		renderGames(out, games)
		return nil
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}

	rec := reconcile.New(session, remote, log,
		reconcile.WithStrict(opts.strict),
		reconcile.WithNotice(func(err error) {
			fmt.Fprintf(out, "! %v\n", err)
		}))
	rec.Observe(func(s models.Session) {
		if s.Status == models.StatusEnded {
			fmt.Fprintln(out, "The session has ended.")
		}
	})
	if err := rec.Start(ctx); err != nil {
		return err
	}
	defer rec.Stop()

	ramps := rec.NewRamp(ramp.Config{
		CoarseStep: cfg.Ramp.CoarseStep,
		FineStep:   cfg.Ramp.FineStep,
		Delay:      cfg.Ramp.Delay,
		Interval:   cfg.Ramp.Interval,
	}, ramp.SystemClock())
	defer ramps.Stop()

	sh := &shell{rec: rec, ramps: ramps, self: me.ID, out: out, sleep: time.Sleep}
	sh.render()
	if err := sh.loop(ctx, in); err != nil {
		return err
	}

	if leave != nil && rec.Session().Status != models.StatusEnded {
		rec.Wait()
		if err := leave(); err != nil && !errors.Is(err, apperrors.ErrSessionNotFound) {
			return err
		}
	}
	return nil
}

// loop reads commands until quit, EOF or cancellation.
func (s *shell) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		quit, err := s.exec(scanner.Text())
		if err != nil {
			fmt.Fprintf(s.out, "! %v\n", err)
			continue
		}
		if quit {
			return nil
		}
		if strings.TrimSpace(scanner.Text()) != "" && !strings.EqualFold(strings.TrimSpace(scanner.Text()), "show") {
			s.render()
		}
	}
}

func splitNames(raw string) []string {
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, strings.TrimSpace(p))
	}
	return names
}
