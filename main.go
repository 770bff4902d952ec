package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"CollabBoard/internal/board"
	"CollabBoard/internal/export"
	bnet "CollabBoard/internal/net"
	"CollabBoard/internal/ui"
)

const Version = "0.1.0"

const usage = `CollabBoard, a shared whiteboard for the local network.

Usage:
    collabboard host [--port=<port>] [--room=<room>] [--no-mdns] [options]
    collabboard join <link> [options]
    collabboard hub [--port=<port>] [--v=<level>]
    collabboard discover [--timeout=<seconds>] [--v=<level>]
    collabboard render <document> <output> [--width=<w>] [--height=<h>] [--ratio=<r>] [--v=<level>]
    collabboard -h | --help
    collabboard --version

A share link looks like collabboard://192.168.1.10:8888/ABC123. Passing one
as the only argument joins it.

Options:
    -h --help              Show this screen.
    --version              Show version.
    --port=<port>          Port the relay hub listens on [default: 8888].
    --room=<room>          Room code to host. A random one by default.
    --no-mdns              Do not advertise the room on the LAN.
    --timeout=<seconds>    How long to browse for rooms [default: 3].
    --width=<w>            Board width [default: 1280].
    --height=<h>           Board height [default: 800].
    --ratio=<r>            Device pixels per board unit [default: 1].
    --color=<color>        Cursor colour as #rrggbb. Random by default.
    --v=<level>            Log verbosity [default: 0].`

func main() {
	args := os.Args[1:]
	if len(args) == 1 && strings.HasPrefix(args[0], bnet.ShareScheme) {
		args = []string{"join", args[0]}
	}
	opts, err := docopt.ParseArgs(usage, args, Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	setupLogging(opts)
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if host, _ := opts.Bool("host"); host {
		err = runHost(ctx, opts)
	} else if join, _ := opts.Bool("join"); join {
		err = runJoin(ctx, opts)
	} else if hub, _ := opts.Bool("hub"); hub {
		err = runHub(ctx, opts)
	} else if discover, _ := opts.Bool("discover"); discover {
		err = runDiscover(opts)
	} else if render, _ := opts.Bool("render"); render {
		err = runRender(opts)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		glog.Errorf("%s\n", err)
		glog.Flush()
		os.Exit(1)
	}
}

// setupLogging routes glog to stderr. Its flags are set here because
// docopt owns the command line.
func setupLogging(opts docopt.Opts) {
	flag.CommandLine.Parse(nil)
	flag.Set("logtostderr", "true")
	if v, _ := opts.String("--v"); v != "" {
		flag.Set("v", v)
	}
}

func boardConfig(opts docopt.Opts, room string) (board.Config, error) {
	cfg := board.DefaultConfig()
	cfg.RoomID = room
	var err error
	if cfg.Width, err = floatOpt(opts, "--width", cfg.Width); err != nil {
		return cfg, err
	}
	if cfg.Height, err = floatOpt(opts, "--height", cfg.Height); err != nil {
		return cfg, err
	}
	if cfg.Ratio, err = floatOpt(opts, "--ratio", cfg.Ratio); err != nil {
		return cfg, err
	}
	cfg.UserColor, _ = opts.String("--color")
	return cfg, nil
}

func floatOpt(opts docopt.Opts, name string, def float64) (float64, error) {
	s, _ := opts.String(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

func portOpt(opts docopt.Opts) (int, error) {
	s, _ := opts.String("--port")
	if s == "" {
		return bnet.DefaultPort, nil
	}
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid --port %q", s)
	}
	return port, nil
}

func runHost(ctx context.Context, opts docopt.Opts) error {
	port, err := portOpt(opts)
	if err != nil {
		return err
	}
	room := bnet.NewRoomCode()
	if s, _ := opts.String("--room"); s != "" {
		var ok bool
		if room, ok = bnet.NormalizeRoom(s); !ok {
			return fmt.Errorf("invalid room code %q", s)
		}
	}
	cfg, err := boardConfig(opts, room)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	hub := bnet.NewHub(bnet.DefaultHubConfig())
	g.Go(func() error {
		return hub.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
	})
	if noMDNS, _ := opts.Bool("--no-mdns"); !noMDNS {
		server, err := bnet.Advertise(room, port)
		if err != nil {
			glog.Infof("[main] LAN discovery disabled: %s\n", err)
		} else {
			defer server.Shutdown()
		}
	}

	session := board.NewSession(cfg)
	defer session.Close()
	session.EnsureDefault()

	link := bnet.ShareLink(bnet.OutgoingIP(), port, room)
	glog.Infof("[main] hosting room %s, share %s\n", room, link)
	return runBoard(ctx, cancel, g, session, fmt.Sprintf("127.0.0.1:%d", port), link, false)
}

func runJoin(ctx context.Context, opts docopt.Opts) error {
	link, _ := opts.String("<link>")
	addr, room, err := bnet.ParseShareLink(link)
	if err != nil {
		return err
	}
	cfg, err := boardConfig(opts, room)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	session := board.NewSession(cfg)
	defer session.Close()
	return runBoard(ctx, cancel, g, session, addr, bnet.ShareScheme+addr+"/"+room, true)
}

// runBoard connects the session to the hub, runs its render loop and shows
// the window until it is closed.
func runBoard(ctx context.Context, cancel context.CancelFunc, g *errgroup.Group, session *board.Session, addr, link string, joining bool) error {
	pcfg := bnet.DefaultProviderConfig()
	pcfg.Addr = addr
	pcfg.Room = session.RoomID()
	provider := bnet.NewProvider(ctx, session.Doc(), session.Presence(), pcfg)
	defer provider.Close()
	if joining {
		// only after the first sync, so a joiner does not add a second
		// default layer next to the host's
		provider.OnSynced(session.EnsureDefault)
	}

	app := ui.NewApp(session, link)
	provider.OnStatus(func(s bnet.Status) { app.SetStatus(s.String()) })

	g.Go(func() error { return session.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		app.Quit()
		return nil
	})

	app.Run()
	cancel()
	return g.Wait()
}

func runHub(ctx context.Context, opts docopt.Opts) error {
	port, err := portOpt(opts)
	if err != nil {
		return err
	}
	hub := bnet.NewHub(bnet.DefaultHubConfig())
	return hub.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
}

func runDiscover(opts docopt.Opts) error {
	seconds, err := floatOpt(opts, "--timeout", 3)
	if err != nil {
		return err
	}
	found := 0
	err = bnet.Browse(time.Duration(seconds*float64(time.Second)), func(h bnet.Host) {
		found++
		fmt.Printf("%s\t%s\n", h.Link(), h.Name)
	})
	if err != nil {
		return err
	}
	if found == 0 {
		fmt.Println("no boards found")
	}
	return nil
}

func runRender(opts docopt.Opts) error {
	in, _ := opts.String("<document>")
	out, _ := opts.String("<output>")
	cfg, err := boardConfig(opts, "")
	if err != nil {
		return err
	}

	r, err := os.Open(in)
	if err != nil {
		return err
	}
	defer r.Close()
	layers, err := export.ReadDocument(r)
	if err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}
	img := export.Headless(layers, cfg.Width, cfg.Height, cfg.Ratio)

	w, err := os.Create(out)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(out)) {
	case ".pdf":
		err = export.PDF(w, img, filepath.Base(in))
	default:
		err = export.PNG(w, export.Flatten(img))
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	glog.Infof("[main] rendered %d layers to %s\n", len(layers), out)
	return nil
}
