package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/rbmirror/internal/admin"
	"github.com/danmuck/rbmirror/internal/auth"
	"github.com/danmuck/rbmirror/internal/logging"
	"github.com/danmuck/rbmirror/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "mirrorctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("mirrorctl", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "mirror config file (TOML)")
	adminAddr := fs.String("admin", "", "admin listen address (overrides config)")
	replayPath := fs.String("replay", "", "file of RenderBatch frames to apply at start")
	outboxPath := fs.String("outbox", "", "file receiving outbound frames")
	logLevel := fs.String("log-level", "", "log level (overrides config)")
	once := fs.Bool("once", false, "apply the replay file, print the tree and exit")
	format := fs.String("format", "json", "tree output for --once: json or digest")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := defaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if fs.Changed("admin") {
		cfg.AdminAddr = strings.TrimSpace(*adminAddr)
	}
	if fs.Changed("replay") {
		cfg.Replay = strings.TrimSpace(*replayPath)
	}
	if fs.Changed("outbox") {
		cfg.Outbox = strings.TrimSpace(*outboxPath)
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if cfg.LogLevel != "" && !logging.SetLevel(cfg.LogLevel) {
		log.Debug().Str("log_level", cfg.LogLevel).Msg("configured log level not applied")
	}

	sess := session.New(cfg.Session)
	defer sess.Close()

	if *once {
		return runOnce(sess, cfg.Replay, *format, stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, sess)
}

// runOnce applies the replay file synchronously and prints the result.
func runOnce(sess *session.Session, replayPath, format string, stdout io.Writer) error {
	if replayPath == "" {
		return errors.New("--once requires a replay file")
	}
	f, err := os.Open(replayPath)
	if err != nil {
		return err
	}
	defer f.Close()

	stats, err := replaySync(sess, f)
	if err != nil {
		return err
	}
	log.Info().
		Int("frames", stats.Frames).
		Int("applied", stats.Applied).
		Int("rejected", stats.Rejected).
		Int("skipped", stats.Skipped).
		Msg("replay complete")

	snap, err := sess.Snapshot()
	if err != nil {
		return err
	}
	switch format {
	case "digest":
		_, err = fmt.Fprintln(stdout, snap.Digest())
		return err
	case "json":
		raw, err := snap.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "%s\n", raw)
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// serve runs the session loop, the outbox drain, the admin API and an
// optional replay until ctx is done or one of them fails.
func serve(ctx context.Context, cfg serviceConfig, sess *session.Session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := io.Discard
	if cfg.Outbox != "" {
		out, err := os.OpenFile(cfg.Outbox, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open outbox: %w", err)
		}
		defer out.Close()
		sink = out
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(name string, err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		errOnce.Do(func() {
			firstErr = fmt.Errorf("%s: %w", name, err)
			cancel()
		})
	}
	start := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(name, fn())
		}()
	}

	srv := admin.New(cfg.Name, cfg.AdminAddr, sess, admin.Options{
		CORSOrigins: cfg.CORSOrigins,
		Auth:        auth.FromToken(cfg.AdminToken),
	})
	start("session", func() error { return sess.Run(ctx) })
	start("outbox", func() error { return drainOutbox(ctx, sess.Outbox(), sink, cfg.DrainInterval) })
	start("admin", func() error { return srv.Serve(ctx) })
	if cfg.Replay != "" {
		start("replay", func() error {
			f, err := os.Open(cfg.Replay)
			if err != nil {
				return err
			}
			defer f.Close()
			stats, err := replayQueued(ctx, sess, f, 5*time.Millisecond)
			log.Info().Int("frames", stats.Frames).Int("queued", stats.Queued).Int("skipped", stats.Skipped).Msg("replay queued")
			return err
		})
	}

	log.Info().Str("mirror", cfg.Name).Str("session_id", sess.ID()).Str("admin_addr", cfg.AdminAddr).Msg("mirrorctl started")
	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("mirrorctl stopped")
	return firstErr
}
