// Command objcache stores, retrieves and maintains entries in a
// persistent binary object cache rooted at a single directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/objcache"
	"github.com/wolfeidau/objcache/evict"
	"github.com/wolfeidau/objcache/janitor"
	"github.com/wolfeidau/objcache/metadata"
	"github.com/wolfeidau/objcache/server"
	"github.com/wolfeidau/objcache/telemetry"
	"github.com/wolfeidau/objcache/view"
)

var version = "dev"

type globals struct {
	Dir        string        `help:"Cache root directory." default:"./objcache" env:"OBJCACHE_DIR" type:"path"`
	LogLevel   string        `help:"Log level (debug, info, warn, error)." enum:"debug,info,warn,error" default:"info" env:"OBJCACHE_LOG_LEVEL"`
	LogFormat  string        `help:"Log format (text, json, pretty)." enum:"text,json,pretty" default:"text" env:"OBJCACHE_LOG_FORMAT"`
	MaxBytes   int64         `help:"Byte budget for stored objects (0 uses the built-in default)."`
	MaxFiles   int           `help:"Entry-count budget (0 uses the built-in default)."`
	DefaultTTL time.Duration `name:"default-ttl" help:"Time-to-live applied to stores that do not set one (0 uses the built-in default)."`
	Bolt       bool          `help:"Keep metadata in a bbolt database instead of the JSON document."`
}

// CLI is the objcache command tree.
type CLI struct {
	globals

	Store  storeCmd  `cmd:"" help:"Store a file or stdin and print the new entry id."`
	Get    getCmd    `cmd:"" help:"Copy a cached object to a file or stdout."`
	Path   pathCmd   `cmd:"" help:"Print the on-disk path of a cached object."`
	Check  checkCmd  `cmd:"" help:"Exit zero when an id is cached and fresh."`
	List   listCmd   `cmd:"" help:"List cached entries."`
	Stats  statsCmd  `cmd:"" help:"Print cache statistics as JSON."`
	Clear  clearCmd  `cmd:"" help:"Remove every cached entry."`
	Sweep  sweepCmd  `cmd:"" help:"Run one maintenance sweep."`
	Daemon daemonCmd `cmd:"" help:"Run the admin server with a background janitor."`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("objcache"),
		kong.Description("Persistent cache for binary objects with TTL, capacity budgets and memory-mapped reads."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger, err := buildLogger(cli.LogLevel, cli.LogFormat)
	kctx.FatalIfErrorf(err)
	slog.SetDefault(logger)

	kctx.FatalIfErrorf(kctx.Run(&cli.globals, logger))
}

// buildLogger constructs the process logger from the global flags. Logs go
// to stderr so command output on stdout stays pipeable.
func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	case "pretty":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	return slog.New(handler), nil
}

func openCache(ctx context.Context, g *globals, logger *slog.Logger) (*objcache.Cache, error) {
	opts := []objcache.Option{
		objcache.WithLogger(logger.With("component", "cache")),
	}
	if g.MaxBytes > 0 || g.MaxFiles > 0 {
		budgets := evict.DefaultBudgets()
		if g.MaxBytes > 0 {
			budgets.MaxBytes = g.MaxBytes
		}
		if g.MaxFiles > 0 {
			budgets.MaxFiles = g.MaxFiles
		}
		opts = append(opts, objcache.WithBudgets(budgets))
	}
	if g.DefaultTTL > 0 {
		opts = append(opts, objcache.WithDefaultTTL(g.DefaultTTL))
	}
	if g.Bolt {
		opts = append(opts, objcache.WithBoltMetadata())
	}

	return objcache.Open(ctx, g.Dir, opts...)
}

// withCache opens the cache, runs fn, and closes it again. Close errors
// surface so a failed metadata flush is not silent.
func withCache(ctx context.Context, g *globals, logger *slog.Logger, fn func(*objcache.Cache) error) error {
	cache, err := openCache(ctx, g, logger)
	if err != nil {
		return err
	}

	err = fn(cache)
	if cerr := cache.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

type storeCmd struct {
	File     string        `arg:"" optional:"" help:"File to store; omit or use '-' to read stdin."`
	Base64   bool          `help:"Decode base64 input (raw or data URI)."`
	TTL      time.Duration `name:"ttl" help:"Time to live; 0 uses the cache default, negative never expires."`
	Compress bool          `help:"Compress the stored object when it is large enough."`
	NoVerify bool          `help:"Skip content signature validation."`
}

func (s *storeCmd) Run(g *globals, logger *slog.Logger) error {
	ctx := context.Background()

	opts := objcache.StoreOptions{
		TTL:               s.TTL,
		Compress:          s.Compress,
		DisableValidation: s.NoVerify,
	}

	return withCache(ctx, g, logger, func(cache *objcache.Cache) error {
		var (
			id  objcache.ID
			err error
		)
		switch {
		case s.File == "" || s.File == "-":
			if s.Base64 {
				id, err = cache.StoreBase64(ctx, os.Stdin, opts)
			} else {
				id, err = cache.Store(ctx, os.Stdin, opts)
			}
		case s.Base64:
			f, ferr := os.Open(s.File)
			if ferr != nil {
				return fmt.Errorf("opening %s: %w", s.File, ferr)
			}
			defer f.Close() //nolint:errcheck
			id, err = cache.StoreBase64(ctx, f, opts)
		default:
			id, err = cache.StoreFile(ctx, s.File, opts)
		}
		if err != nil {
			return err
		}

		fmt.Println(id)
		return nil
	})
}

type getCmd struct {
	ID     string `arg:"" help:"Entry id."`
	Output string `arg:"" optional:"" help:"Destination file; omit or use '-' to write stdout."`
}

func (c *getCmd) Run(g *globals, logger *slog.Logger) error {
	ctx := context.Background()

	id, err := objcache.ParseID(c.ID)
	if err != nil {
		return err
	}

	return withCache(ctx, g, logger, func(cache *objcache.Cache) error {
		path, err := cache.Load(ctx, id)
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening cached object: %w", err)
		}
		defer src.Close() //nolint:errcheck

		if c.Output == "" || c.Output == "-" {
			_, err = io.Copy(os.Stdout, src)
			return err
		}

		dst, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", c.Output, err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close() //nolint:errcheck
			return fmt.Errorf("writing %s: %w", c.Output, err)
		}
		return dst.Close()
	})
}

type pathCmd struct {
	ID string `arg:"" help:"Entry id."`
}

func (c *pathCmd) Run(g *globals, logger *slog.Logger) error {
	ctx := context.Background()

	id, err := objcache.ParseID(c.ID)
	if err != nil {
		return err
	}

	return withCache(ctx, g, logger, func(cache *objcache.Cache) error {
		path, err := cache.Load(ctx, id)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	})
}

type checkCmd struct {
	ID string `arg:"" help:"Entry id."`
}

func (c *checkCmd) Run(g *globals, logger *slog.Logger) error {
	ctx := context.Background()

	id, err := objcache.ParseID(c.ID)
	if err != nil {
		return err
	}

	return withCache(ctx, g, logger, func(cache *objcache.Cache) error {
		if !cache.IsValid(ctx, id) {
			return fmt.Errorf("%s is not cached", id)
		}
		return nil
	})
}

type listCmd struct{}

func (l *listCmd) Run(g *globals, logger *slog.Logger) error {
	ctx := context.Background()

	return withCache(ctx, g, logger, func(cache *objcache.Cache) error {
		entries := cache.Entries()
		slices.SortFunc(entries, func(a, b metadata.Entry) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSIZE\tCOMPRESSED\tACCESSES\tCREATED\tLAST ACCESS\tTTL")
		for _, e := range entries {
			ttl := "never"
			if e.TTLMillis > 0 {
				ttl = e.TTL().String()
			}
			fmt.Fprintf(w, "%s\t%d\t%t\t%d\t%s\t%s\t%s\n",
				e.ID,
				e.Size,
				e.Compressed,
				e.AccessCount,
				e.CreatedAt.Format(time.RFC3339),
				e.LastAccessed.Format(time.RFC3339),
				ttl,
			)
		}
		return w.Flush()
	})
}

type statsCmd struct{}

func (s *statsCmd) Run(g *globals, logger *slog.Logger) error {
	ctx := context.Background()

	return withCache(ctx, g, logger, func(cache *objcache.Cache) error {
		payload := struct {
			Dir   string         `json:"dir"`
			Cache metadata.Stats `json:"cache"`
			Views view.Stats     `json:"views"`
		}{cache.Dir(), cache.Stats(), cache.ViewStats()}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	})
}

type clearCmd struct{}

func (c *clearCmd) Run(g *globals, logger *slog.Logger) error {
	ctx := context.Background()

	return withCache(ctx, g, logger, func(cache *objcache.Cache) error {
		st := cache.Stats()
		if err := cache.Clear(ctx); err != nil {
			return err
		}
		fmt.Printf("cleared %d entries, %d bytes\n", st.EntryCount, st.TotalBytes)
		return nil
	})
}

type sweepCmd struct{}

func (s *sweepCmd) Run(g *globals, logger *slog.Logger) error {
	ctx := context.Background()

	return withCache(ctx, g, logger, func(cache *objcache.Cache) error {
		res, err := cache.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("scanned %d: %d expired, %d orphans, %d stale temps, %d failures, %d bytes freed in %s\n",
			res.Scanned, res.Expired, res.Orphans, res.StaleTemps, res.Failures, res.BytesFreed, res.Duration)
		return nil
	})
}

type daemonCmd struct {
	Address       string        `help:"Address to listen on." default:":8080" env:"OBJCACHE_ADDRESS"`
	AuthToken     string        `help:"Bearer token required on admin endpoints." env:"OBJCACHE_AUTH_TOKEN"`
	SweepInterval time.Duration `help:"How often the janitor sweeps." default:"1h"`
	OTLPEndpoint  string        `name:"otlp-endpoint" help:"OTLP gRPC endpoint for metric export (e.g. localhost:4317)." env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Prometheus    bool          `help:"Expose Prometheus metrics on /metrics." default:"true" negatable:""`
}

func (d *daemonCmd) Run(g *globals, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "objcache",
		ServiceVersion:   version,
		OTLPEndpoint:     d.OTLPEndpoint,
		EnablePrometheus: d.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}

	cache, err := openCache(ctx, g, logger)
	if err != nil {
		return err
	}

	jan := janitor.NewManager(cache, janitor.Config{
		Interval: d.SweepInterval,
		Logger:   logger.With("component", "janitor"),
	})
	if err := jan.Start(ctx); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}

	srv := server.New(cache, server.Config{
		Address:   d.Address,
		AuthToken: d.AuthToken,
		Logger:    logger.With("component", "server"),
	})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("daemon started",
		"address", srv.Address(),
		"dir", cache.Dir(),
		"sweep_interval", d.SweepInterval,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	jan.Stop()

	return errors.Join(
		runErr,
		srv.Shutdown(shutdownCtx),
		cache.Close(shutdownCtx),
		shutdownMetrics(shutdownCtx),
	)
}
