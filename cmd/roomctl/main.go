// roomctl drives a devrooms server from the terminal. `join` holds a
// session handle open, prints the reconciled participant list as it
// changes and releases on Ctrl-C or when the room is terminated.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/devrooms/internal/app"
	"github.com/dkeye/devrooms/internal/client"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
)

type globals struct {
	server   string
	user     string
	verbose  bool
	interval time.Duration
}

func (g *globals) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&g.server, "server", envOr("ROOMS_SERVER", "http://localhost:8080"), "server base URL")
	fs.StringVarP(&g.user, "user", "u", os.Getenv("ROOMS_USER"), "acting user id (X-User-ID)")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
	fs.DurationVar(&g.interval, "interval", 2*time.Second, "presence reconciliation interval")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (g *globals) api() (*client.API, error) {
	return client.NewAPI(client.Config{BaseURL: g.server, User: domain.UserID(g.user)})
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if code := domain.Code(err); code != domain.CodeInternal {
			fmt.Fprintf(os.Stderr, "code: %s\n", code)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]

	var g globals
	fs := pflag.NewFlagSet("roomctl "+cmd, pflag.ContinueOnError)
	g.addFlags(fs)

	var create client.RoomRequest
	var tags []string
	var active bool
	var status string
	switch cmd {
	case "create":
		fs.StringVar(&create.Title, "title", "", "room title")
		fs.StringVar(&create.Description, "description", "", "room description")
		fs.StringSliceVar(&create.Tags, "tag", nil, "tag (repeatable)")
		fs.StringSliceVar(&create.TechStack, "stack", nil, "tech stack entry (repeatable)")
		fs.StringVar(&create.SkillLevel, "skill", "", "beginner|intermediate|advanced")
		fs.StringVar(&create.GithubLink, "github", "", "repository link")
		fs.IntVar(&create.MaxParticipants, "max", 4, "max participants")
	case "list":
		fs.StringSliceVar(&tags, "tag", nil, "only rooms with this tag (repeatable)")
		fs.BoolVar(&active, "active", false, "only rooms with members")
	case "status":
		fs.StringVar(&status, "to", "", "open|in-progress|closed")
	case "join", "leave", "terminate", "get":
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if g.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	api, err := g.api()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "create":
		room, err := api.Create(ctx, create)
		if err != nil {
			return err
		}
		printRoom(room)
		return nil
	case "list":
		rooms, err := api.List(ctx, domain.Filter{Query: strings.Join(fs.Args(), " "), Tags: tags, Active: active})
		if err != nil {
			return err
		}
		for _, r := range rooms {
			printRoom(r)
		}
		return nil
	}

	if fs.NArg() != 1 {
		return fmt.Errorf("%s needs exactly one room id", cmd)
	}
	id := domain.RoomID(fs.Arg(0))
	switch cmd {
	case "get":
		room, err := api.Get(ctx, id)
		if err != nil {
			return err
		}
		printRoom(room)
	case "leave":
		room, err := api.Leave(ctx, id)
		if err != nil {
			return err
		}
		printRoom(room)
	case "terminate":
		room, ended, err := api.Terminate(ctx, id)
		if err != nil {
			return err
		}
		printRoom(room)
		fmt.Printf("session ended: %t\n", ended)
	case "status":
		to, err := domain.ParseStatus(status)
		if err != nil {
			return err
		}
		room, err := api.SetStatus(ctx, id, to)
		if err != nil {
			return err
		}
		printRoom(room)
	case "join":
		return join(ctx, api, id, g.interval)
	}
	return nil
}

// join holds a session handle until ctx ends or the server ends the
// session, printing presence along the way.
func join(ctx context.Context, api *client.API, id domain.RoomID, interval time.Duration) error {
	events := make(chan core.Event, 64)
	h := client.NewHandle(api, &client.WSConnector{API: api}, id, api.User(),
		client.WithEventSink(func(ev core.Event) { app.Offer(events, ev) }))
	defer func() { _ = h.Release(context.Background()) }()

	if err := h.Acquire(ctx); err != nil {
		return fmt.Errorf("could not join %s: %w", id, err)
	}
	fmt.Printf("joined %s (session %s)\n", id, h.Session())

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)
	defer stopWatch()

	rooms, err := api.Watch(watchCtx, id)
	if err != nil {
		log.Warn().Err(err).Str("room", string(id)).Msg("registry stream unavailable, using join snapshot only")
		ch := make(chan domain.Room, 1)
		ch <- h.Room()
		rooms = ch
	}

	rec := client.NewReconciler(interval)
	rec.ApplyRoom(h.Room())
	g.Go(func() error {
		rec.Run(watchCtx, rooms, events, func(v []domain.UserID) {
			fmt.Printf("[%s] participants (%d): %s\n", time.Now().Format(time.TimeOnly), len(v), joinIDs(v))
		})
		return nil
	})
	g.Go(func() error {
		defer stopWatch()
		select {
		case <-h.Done():
			fmt.Println("session ended")
		case <-watchCtx.Done():
		}
		return nil
	})
	return g.Wait()
}

func joinIDs(ids []domain.UserID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ", ")
}

func printRoom(r domain.Room) {
	fmt.Printf("%s  %-30q  %-11s  %d/%d  admin=%s  tags=%s\n",
		r.ID, r.Title, r.Status, len(r.Members), r.MaxParticipants, r.Admin, strings.Join(r.Tags, ","))
}

func printUsage() {
	fmt.Fprint(os.Stderr, `roomctl: command line client for devrooms

Usage:
  roomctl create --title T --stack Go [--tag t] [--max N] [--skill S] [--github URL]
  roomctl list [query] [--tag t] [--active]
  roomctl get ROOM
  roomctl join ROOM
  roomctl leave ROOM
  roomctl status ROOM --to in-progress|closed
  roomctl terminate ROOM

Global flags: --server URL (ROOMS_SERVER), --user ID (ROOMS_USER), -v, --interval D
`)
}
