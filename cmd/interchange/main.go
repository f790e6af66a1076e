package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/openclaw/interchange/internal"
	pkgconfig "github.com/openclaw/interchange/pkg/config"
	"github.com/openclaw/interchange/pkg/interchange"
)

// loadConfig applies defaults, the optional config file and the --root override.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyRoot(cmd.String("root"))
	return cfg, nil
}

// globalFlags resolve the interchange root as --root, then $INTERCHANGE_ROOT,
// then the config file, then the per-user default.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to config file (optional)",
			DefaultText: "config/config.yaml",
			Value:       "config/config.yaml",
			Sources:     cli.EnvVars("INTERCHANGE_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "root",
			Usage:   "Interchange root directory (overrides the config file)",
			Sources: cli.EnvVars(interchange.RootEnv),
		},
	}
}

func watch(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "interchange",
		Usage: "Shared markdown interchange for cooperating agent skills",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			readCommand(),
			writeCommand(),
			listCommand(),
			staleCommand(),
			rebuildCommand(),
			reconcileCommand(),
			{
				Name:   "watch",
				Usage:  "Rebuild indexes, then keep them current until interrupted",
				Action: watch,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
