// users-mcp is an MCP server exposing a users resource, user profiles, user
// creation tools and a fake-user prompt, backed by a single JSON file.
//
// It speaks MCP over stdio by default; -http serves streamable HTTP
// instead. Claude Desktop configuration (claude_desktop_config.json):
//
//	{
//	  "mcpServers": {
//	    "users": {
//	      "command": "/path/to/users-mcp",
//	      "args": ["-data", "/path/to/users.json"]
//	    }
//	  }
//	}
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dusk-indust/users-mcp/internal/config"
	"github.com/dusk-indust/users-mcp/internal/mcptools"
	"github.com/dusk-indust/users-mcp/internal/userstore"
	"github.com/fsnotify/fsnotify"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CLI flags parsed from command line. Empty values leave the config file
// setting in place.
type cliFlags struct {
	ConfigDir string
	DataFile  string
	HTTPAddr  string
	IDPolicy  string
	LogLevel  string
	LogFile   string
	Version   bool
}

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	if flags.Version {
		fmt.Println(version)
		return nil
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	// Never log to stdout: it carries the stdio transport.
	logger, closeLog, err := buildLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
		_ = closeLog()
	}()

	store := userstore.New(cfg.DataFile, userstore.WithIDPolicy(cfg.StoreIDPolicy()))
	svc := mcptools.NewUsersService(store, logger.Named("users"),
		mcptools.WithSamplingMaxTokens(cfg.Sampling.MaxTokens))
	server := mcptools.NewUsersMCPServer(svc, mcptools.Options{
		Name:               cfg.ServerName,
		Logger:             logger.Named("mcp"),
		ToolCallsPerSecond: cfg.RateLimit.ToolCallsPerSecond,
		Burst:              cfg.RateLimit.Burst,
	})

	logger.Info("starting users-mcp server",
		zap.String("version", version),
		zap.String("data_file", cfg.DataFile),
		zap.String("id_policy", store.Policy().String()),
		zap.String("http_addr", cfg.HTTPAddr),
	)

	g, gctx := errgroup.WithContext(ctx)

	// The watcher stops once the transport returns.
	watchCtx, stopWatch := context.WithCancel(gctx)
	defer stopWatch()

	g.Go(func() error {
		watchStore(watchCtx, store, server, logger)
		return nil
	})

	g.Go(func() error {
		defer stopWatch()
		if cfg.HTTPAddr != "" {
			logger.Info("serving MCP over streamable HTTP", zap.String("addr", cfg.HTTPAddr))
			return mcptools.RunHTTP(gctx, server, cfg.HTTPAddr)
		}
		logger.Info("MCP server ready, awaiting client on stdio")
		return mcptools.RunStdio(gctx, server)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("server error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

// watchStore pushes resources/updated for users://all on every change to
// the data file. A watcher failure only disables notifications; the
// transport keeps serving.
func watchStore(ctx context.Context, store *userstore.Store, server *mcp.Server, logger *zap.Logger) {
	err := store.Watch(ctx, func(ev fsnotify.Event) {
		logger.Debug("user store changed", zap.String("op", ev.Op.String()))
		if err := mcptools.NotifyUsersChanged(ctx, server); err != nil {
			logger.Warn("notify resource updated", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("user store watch stopped, change notifications disabled",
			zap.String("data_file", store.Path()), zap.Error(err))
	}
}

func parseFlags(args []string) (cliFlags, error) {
	var flags cliFlags

	fs := flag.NewFlagSet("users-mcp", flag.ContinueOnError)
	fs.StringVar(&flags.ConfigDir, "config-dir", ".", "directory containing users-mcp.yml")
	fs.StringVar(&flags.DataFile, "data", "", "path to the users JSON file (default: data/users.json under -config-dir)")
	fs.StringVar(&flags.HTTPAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	fs.StringVar(&flags.IDPolicy, "id-policy", "", "id assignment for new users: max or count")
	fs.StringVar(&flags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&flags.LogFile, "log-file", "", "log file path (default: stderr)")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return flags, nil
}

// loadConfig reads users-mcp.yml from the config directory and applies
// flag overrides on top.
func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if flags.DataFile != "" {
		cfg.DataFile = flags.DataFile
	}
	if flags.HTTPAddr != "" {
		cfg.HTTPAddr = flags.HTTPAddr
	}
	if flags.IDPolicy != "" {
		cfg.IDPolicy = flags.IDPolicy
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	if flags.LogFile != "" {
		cfg.LogFile = flags.LogFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
