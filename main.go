package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/n0madic/go-mnmlgate/internal/config"
	"github.com/n0madic/go-mnmlgate/internal/history"
	"github.com/n0madic/go-mnmlgate/internal/server"
	"github.com/n0madic/go-mnmlgate/internal/tools"
	"github.com/n0madic/go-mnmlgate/internal/upstream"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: go-mnmlgate <command> [flags]")
		fmt.Fprintln(os.Stderr, "Commands: serve, tools, info")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(cmdServe())
	case "tools":
		os.Exit(cmdTools())
	case "info":
		os.Exit(cmdInfo())
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Commands: serve, tools, info")
		os.Exit(1)
	}
}

func cmdServe() int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := config.DefaultFromEnv()

	fs.StringVar(&cfg.Host, "host", cfg.Host, "Bind host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Listen port")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Dump inbound and upstream requests to stderr")
	fs.DurationVar(&cfg.UpstreamTimeout, "upstream-timeout", cfg.UpstreamTimeout, "Timeout for a single upstream call")
	fs.StringVar(&cfg.ToolsFile, "tools-file", cfg.ToolsFile, "YAML tool registry replacing the built-in one")
	fs.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB connection string for image history (in-memory when empty)")
	fs.StringVar(&cfg.MongoDB, "mongo-db", cfg.MongoDB, "MongoDB database name")
	fs.Parse(os.Args[2:])

	setupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	reg, err := loadRegistry(cfg)
	if err != nil {
		slog.Error("failed to load tool registry", "error", err)
		return 1
	}
	if !cfg.HasAPIKey() {
		slog.Warn("MNML_API_KEY is not set; upstream routes will fail until it is configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openHistoryStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open history store", "error", err)
		return 1
	}

	client := upstream.NewClient(upstream.Options{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.UpstreamBaseURL,
		Timeout: cfg.UpstreamTimeout,
		Verbose: cfg.Verbose,
		Debug:   cfg.Debug,
	})
	srv := server.New(cfg, server.Options{
		Registry: reg,
		Upstream: client,
		History:  history.NewService(store, cfg.DownloadTimeout),
	})

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("mnml gateway starting", "addr", srv.Addr(), "tools", len(reg.IDs()))
		return srv.ListenAndServe()
	})
	g.Go(func() error {
		<-gCtx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

func setupLogging(cfg *config.ServerConfig) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadRegistry(cfg *config.ServerConfig) (*tools.Registry, error) {
	if cfg.ToolsFile != "" {
		return tools.LoadFile(cfg.ToolsFile)
	}
	return tools.Default()
}

func openHistoryStore(ctx context.Context, cfg *config.ServerConfig) (history.Store, error) {
	if cfg.MongoURI == "" {
		slog.Warn("MONGO_URI is not set; image history is kept in memory")
		return history.NewMemoryStore(history.DefaultMemoryCapacity), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := history.OpenMongo(connectCtx, cfg.MongoURI, cfg.MongoDB, cfg.HistoryCollection)
	if err != nil {
		return nil, err
	}
	slog.Info("history store connected", "database", cfg.MongoDB, "collection", cfg.HistoryCollection)
	return store, nil
}

func cmdTools() int {
	fs := flag.NewFlagSet("tools", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output the registry as JSON")
	toolsFile := fs.String("tools-file", os.Getenv("MNML_TOOLS_FILE"), "YAML tool registry replacing the built-in one")
	fs.Parse(os.Args[2:])

	reg, err := loadRegistry(&config.ServerConfig{ToolsFile: *toolsFile})
	if err != nil {
		slog.Error("failed to load tool registry", "error", err)
		return 1
	}

	if *jsonOut {
		type entry struct {
			ID             string            `json:"id"`
			Endpoint       string            `json:"endpoint"`
			JobBased       bool              `json:"job_based"`
			RequiresImage  bool              `json:"requires_image"`
			RequiresMask   bool              `json:"requires_mask,omitempty"`
			DefaultPayload map[string]string `json:"default_payload,omitempty"`
		}
		var out []entry
		for _, d := range reg.Descriptors() {
			out = append(out, entry{d.ID, d.EndpointPath, d.JobBased, d.RequiresImage, d.RequiresMask, d.DefaultPayload})
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Println("\U0001F9F0 Tools")
	for _, d := range reg.Descriptors() {
		mode := "instant"
		if d.JobBased {
			mode = "job"
		}
		image := ""
		if d.RequiresImage {
			image = ", image required"
		}
		if d.RequiresMask {
			image += ", mask required"
		}
		fmt.Printf("  • %-18s %-22s (%s%s)\n", d.ID, d.EndpointPath, mode, image)
	}
	return 0
}

func cmdInfo() int {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	cfg := config.DefaultFromEnv()

	fmt.Println("⚙️  Configuration")
	fmt.Printf("  • Listen: %s:%d\n", cfg.Host, cfg.Port)
	fmt.Printf("  • Upstream: %s (timeout %s)\n", cfg.UpstreamBaseURL, cfg.UpstreamTimeout)
	if cfg.HasAPIKey() {
		fmt.Println("  • API key: configured")
	} else {
		fmt.Println("  • API key: missing (set MNML_API_KEY)")
	}
	if cfg.MongoURI != "" {
		fmt.Printf("  • History: MongoDB %s.%s\n", cfg.MongoDB, cfg.HistoryCollection)
	} else {
		fmt.Println("  • History: in-memory (set MONGO_URI to persist)")
	}
	if cfg.ToolsFile != "" {
		fmt.Printf("  • Tool registry: %s\n", cfg.ToolsFile)
	} else {
		fmt.Println("  • Tool registry: built-in")
	}
	fmt.Printf("  • User-Agent: %s\n", config.UserAgent())

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\n⚠️  %v\n", err)
		return 1
	}
	return 0
}
