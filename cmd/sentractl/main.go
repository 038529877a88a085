// Sentractl inspects and edits sentra's persisted state: the trusted
// source list and the event log. It can also score a notification body
// offline against the current trust list.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentra/internal/eventlog"
	"github.com/linnemanlabs/sentra/internal/eventlog/filelog"
	"github.com/linnemanlabs/sentra/internal/knownsource"
	"github.com/linnemanlabs/sentra/internal/knownsource/filestore"
	"github.com/linnemanlabs/sentra/internal/pgstore"
	"github.com/linnemanlabs/sentra/internal/postgres"
)

const envPrefix = "SENTRA_"

type options struct {
	envFile          string
	databaseURL      string
	knownSourcesPath string
	eventLogPath     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "sentractl",
		Short:        "Inspect sentra's trusted sources and event log",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return fillFromEnv(cmd.Flags(), opts.envFile)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading SENTRA_ environment variables")
	pf.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (empty = local files)")
	pf.StringVar(&opts.knownSourcesPath, "known-sources-path", "known_ips.json", "trusted IP file (used when database-url is empty)")
	pf.StringVar(&opts.eventLogPath, "event-log-path", "sentra_log.txt", "event log file (used when database-url is empty)")

	rootCmd.AddCommand(knownCmd(opts))
	rootCmd.AddCommand(trustCmd(opts))
	rootCmd.AddCommand(logCmd(opts))
	rootCmd.AddCommand(scoreCmd(opts))

	return rootCmd
}

// fillFromEnv loads the dotenv file, then sets every flag the command line
// left untouched from SENTRA_<FLAG_NAME> when that variable is present. It
// uses the same naming as the daemon so both read one .env.
func fillFromEnv(flags *pflag.FlagSet, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "env-file" || f.Name == "help" {
			return
		}
		key := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if val, ok := os.LookupEnv(key); ok {
			if err := f.Value.Set(val); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	})
	return errors.Join(errs...)
}

type backend struct {
	known  knownsource.Store
	events eventlog.Log
	close  func()
}

func (o *options) open(ctx context.Context) (*backend, error) {
	if o.databaseURL == "" {
		return &backend{
			known:  filestore.New(o.knownSourcesPath),
			events: filelog.New(o.eventLogPath),
			close:  func() {},
		}, nil
	}
	pool, err := postgres.NewPool(ctx, o.databaseURL, postgres.Options{Logger: log.Nop(), MaxConns: 2})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &backend{known: store, events: store, close: pool.Close}, nil
}
