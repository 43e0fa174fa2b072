package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/carta/internal"
	"github.com/starford/carta/internal/cardservice"
	"github.com/starford/carta/internal/generator"
	pkgconfig "github.com/starford/carta/pkg/config"
)

// version is set at build time.
var version = "dev"

// loadConfig reads the optional config file and applies flag overrides.
// Validation happens later so overrides can fill required fields.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadIfExists(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cmd.IsSet("root") {
		cfg.Workspace.Root = cmd.String("root")
	}
	if cmd.IsSet("read-only") {
		cfg.Workspace.ReadOnly = cmd.Bool("read-only")
	}
	if cmd.IsSet("audit") {
		cfg.Audit.Mode = cmd.String("audit")
	}
	if cmd.IsSet("transport") {
		cfg.App.Transport = cmd.String("transport")
	}
	if cmd.IsSet("log-level") {
		if err := cfg.App.LogLevel.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func scan(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	req := cardservice.ScanRequest{
		Root:         cmd.Args().First(),
		Include:      cmd.StringSlice("include"),
		Exclude:      cmd.StringSlice("exclude"),
		AutoGenerate: cmd.Bool("generate"),
	}
	if req.AutoGenerate {
		opts := generator.DefaultOptions()
		opts.Template = generator.Template(cmd.String("template"))
		req.Generate = &opts
	}

	return internal.Scan(ctx, cfg, req, os.Stdout)
}

func main() {
	globalFlags := []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to config file (optional)",
			DefaultText: "config/config.yaml",
			Value:       "config/config.yaml",
			Sources:     cli.EnvVars("CARTA_CONFIG_FILE"),
		},
		&cli.StringFlag{
			Name:    "root",
			Usage:   "Workspace root directory",
			Sources: cli.EnvVars("CARTA_ROOT"),
		},
		&cli.StringFlag{
			Name:    "audit",
			Usage:   "Read audit mode: jsonl, sqlite or none",
			Sources: cli.EnvVars("CARTA_AUDIT"),
		},
		&cli.BoolFlag{
			Name:    "read-only",
			Usage:   "Reject every edit with READ_ONLY_MODE",
			Sources: cli.EnvVars("CARTA_READ_ONLY"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.EnvVars("CARTA_LOG_LEVEL"),
		},
	}

	serveFlags := append([]cli.Flag{
		&cli.StringFlag{
			Name:    "transport",
			Usage:   "MCP transport: stdio or http",
			Sources: cli.EnvVars("CARTA_TRANSPORT"),
		},
	}, globalFlags...)

	cmd := &cli.Command{
		Name:    "carta",
		Usage:   "Marker-bounded card blocks for source files, served to agents over MCP",
		Version: version,
		Action:  serve,
		Flags:   serveFlags,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the MCP server (default)",
				Action: serve,
				Flags:  serveFlags,
			},
			{
				Name:      "scan",
				Usage:     "Scan the workspace and print the result as JSON",
				ArgsUsage: "[dir]",
				Action:    scan,
				Flags: append([]cli.Flag{
					&cli.StringSliceFlag{
						Name:  "include",
						Usage: "Glob of files to include (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "exclude",
						Usage: "Glob of files to exclude (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "generate",
						Usage: "Suggest cards for files without any",
					},
					&cli.StringFlag{
						Name:  "template",
						Usage: "Suggestion template: minimal or detailed",
						Value: string(generator.TemplateMinimal),
					},
				}, globalFlags...),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
