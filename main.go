package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/mark3labs/mcp-go/server"
	"github.com/melkeydev/treedb/config"
	"github.com/melkeydev/treedb/databases"
	"github.com/melkeydev/treedb/mcp"
	"github.com/melkeydev/treedb/tree"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.1.0"

var CLI struct {
	Config string `name:"config" short:"c" default:"config.yaml" help:"Path to config file" type:"path"`

	Serve ServeCmd `cmd:"" default:"1" help:"Serve the MCP tools over stdio"`
	Init  InitCmd  `cmd:"" help:"Open the database, create the users and tree tables"`
	Tree  TreeCmd  `cmd:"" help:"Print the node hierarchy"`
}

// app is what every command runs against.
type app struct {
	cfg      *config.Config
	logger   *zap.SugaredLogger
	registry *databases.Registry
	store    *tree.Store
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	z := zap.NewProductionConfig()
	if cfg.Development {
		z = zap.NewDevelopmentConfig()
	}
	// stdout carries the MCP protocol
	z.OutputPaths = []string{"stderr"}
	z.ErrorOutputPaths = []string{"stderr"}
	z.Level = zap.NewAtomicLevelAt(level)

	return z.Build()
}

func open(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	sugar := logger.Sugar()

	connStr, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("connection string error: %w", err)
	}

	registry := databases.NewRegistry(databases.WithLogger(sugar))
	name := cfg.Database.ConnectionName()
	if err := registry.OpenBackend(ctx, name, cfg.Database.DBType, connStr); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   sugar,
		registry: registry,
		store:    tree.NewStore(registry, name, tree.WithTable(cfg.Tree.Table)),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warnw("failed to close tree store", "error", err)
	}
	if err := a.registry.CloseAll(); err != nil {
		a.logger.Warnw("failed to close connections", "error", err)
	}
	_ = a.logger.Sync()
}

type ServeCmd struct{}

func (c *ServeCmd) Run(a *app) error {
	ctx := context.Background()

	if err := a.store.EnsureTable(ctx); err != nil {
		return fmt.Errorf("failed to ensure tree table: %w", err)
	}
	if err := a.store.Load(ctx); err != nil {
		return err
	}

	s := server.NewMCPServer(
		"treedb",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	name := a.cfg.Database.ConnectionName()
	mcp.RegisterTools(s, databases.NewReader(a.registry, name), a.store)
	a.logger.Infow("serving", "connection", name, "backend", a.cfg.Database.DBType)

	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

type InitCmd struct {
	Save bool `name:"save" help:"Write the effective configuration back to the config file"`
}

func (c *InitCmd) Run(a *app) error {
	if err := a.store.EnsureTable(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure tree table: %w", err)
	}
	fmt.Printf("database ready (%s, tree table %s)\n", a.cfg.Database.DBType, a.store.Table())

	if c.Save {
		return config.Save(CLI.Config, a.cfg)
	}
	return nil
}

type TreeCmd struct{}

func (c *TreeCmd) Run(a *app) error {
	if err := a.store.Load(context.Background()); err != nil {
		return err
	}

	a.store.Walk(func(n *tree.Node, depth int) {
		fmt.Printf("%s%s (%d)\n", strings.Repeat("  ", depth), n.Name, n.ID)
	})
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("treedb"),
		kong.Description("Schema-agnostic SQL data access with a hierarchical node store"),
		kong.UsageOnError(),
	)

	a, err := open(context.Background(), CLI.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	err = ctx.Run(a)
	a.Close()
	ctx.FatalIfErrorf(err)
}
