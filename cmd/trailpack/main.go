// Command trailpack is the command-line client for a trailpack server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trailpack/trailpack/internal/logging"
	"github.com/trailpack/trailpack/internal/remote"
	"github.com/trailpack/trailpack/internal/session"
)

const (
	defaultServer  = "http://localhost:8080"
	defaultTimeout = 15 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+userMessage(err)))
		os.Exit(1)
	}
}

// app is built once per invocation from flags and TRAILPACK_* variables.
type app struct {
	cfg     *viper.Viper
	client  *remote.Client
	logger  *slog.Logger
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: viper.New()}

	root := &cobra.Command{
		Use:   "trailpack",
		Short: "Packing lists for your trips",
		Long: `trailpack keeps your trip packing lists in sync with a trailpack server.

Sign in once; credentials are kept in a YAML file and reused by every command.
Every flag can also be set through a TRAILPACK_* environment variable, for
example TRAILPACK_SERVER.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.client != nil {
				_ = a.client.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.String("server", defaultServer, "trailpack server URL")
	flags.String("credentials", "", "credentials file (default: user config dir/trailpack/credentials.yaml)")
	flags.Duration("timeout", defaultTimeout, "timeout for each request")
	flags.BoolP("verbose", "v", false, "enable debug logging on stderr")
	flags.String("log-file", "", "also write JSON logs to this rotating file")
	_ = a.cfg.BindPFlags(flags)
	a.cfg.SetEnvPrefix("TRAILPACK")
	a.cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.cfg.AutomaticEnv()

	root.AddCommand(
		a.signUpCmd(),
		a.signInCmd(),
		a.signOutCmd(),
		a.whoAmICmd(),
		a.profileCmd(),
		a.listsCmd(),
		a.createCmd(),
		a.renameCmd(),
		a.addCmd(),
		a.checkCmd("check", true),
		a.checkCmd("uncheck", false),
		a.toggleCmd(),
		a.deleteCmd(),
		a.watchCmd(),
		a.inspirationCmd(),
	)
	return root
}

func (a *app) init() error {
	level := "warn"
	if a.cfg.GetBool("verbose") {
		level = "debug"
	}
	logger := logging.New(logging.Options{Level: level, Format: "text", File: a.cfg.GetString("log-file")})

	path := a.cfg.GetString("credentials")
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("locate config dir: %w", err)
		}
		path = filepath.Join(dir, "trailpack", "credentials.yaml")
	}

	client, err := remote.New(a.cfg.GetString("server"),
		remote.WithTokenStore(newFileTokens(path)),
		remote.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	a.client = client
	a.logger = logger
	a.timeout = a.cfg.GetDuration("timeout")
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	return nil
}

// requestContext bounds a single command round trip.
func (a *app) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

// sessionStore resolves the stored session before returning.
func (a *app) sessionStore(ctx context.Context) (*session.Store, session.State, error) {
	store := session.NewStore(a.client, a.logger)
	st, err := store.Wait(ctx)
	if err != nil {
		store.Close()
		return nil, session.State{}, fmt.Errorf("resolve session: %w", err)
	}
	return store, st, nil
}
