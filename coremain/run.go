package coremain

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/neardns/neardns/pkg/kvstore"
	"github.com/neardns/neardns/pkg/mlog"
	"github.com/neardns/neardns/pkg/record"
	"github.com/neardns/neardns/pkg/recordstore"
	"github.com/neardns/neardns/pkg/registry"
)

var version = "dev"

type serverFlags struct {
	c   string
	dir string
}

var rootCmd = &cobra.Command{
	Use:           "neardns",
	Short:         "Owner-keyed record store with storage-cost admission.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	var cfgPath string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file")

	sf := new(serverFlags)
	startCmd := &cobra.Command{
		Use:   "start [-c config_file] [-d working_dir]",
		Short: "Start the record api server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sf.c = cfgPath
			if service.Interactive() {
				return StartServer(sf)
			}
			return runAsService(sf)
		},
		DisableFlagsInUseLine: true,
	}
	startCmd.Flags().StringVarP(&sf.dir, "dir", "d", "", "working dir")
	rootCmd.AddCommand(startCmd)

	rootCmd.AddCommand(
		newInitCmd(&cfgPath),
		newCostCmd(&cfgPath),
		newGetCmd(&cfgPath),
		newSetCmd(&cfgPath),
		newServiceCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print out version info and exit.",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		},
	)
}

func Run() error {
	return rootCmd.Execute()
}

// StartServer runs the server until SIGINT or SIGTERM.
func StartServer(sf *serverFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServerFromFlags(sf)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func newServerFromFlags(sf *serverFlags) (*Server, error) {
	if len(sf.dir) > 0 {
		if err := os.Chdir(sf.dir); err != nil {
			return nil, fmt.Errorf("failed to change the current working directory, %w", err)
		}
		mlog.L().Info("working directory changed", zap.String("path", sf.dir))
	}

	cfg, fileUsed, err := loadConfig(sf.c)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	if fileUsed != "" {
		logger.Info("main config loaded", zap.String("file", fileUsed))
	}
	return NewServer(cfg, logger)
}

// withBackend loads the config and opens its backend for one-shot commands.
func withBackend(cfgPath string, fn func(ctx context.Context, b kvstore.Backend, logger *zap.Logger) error) error {
	cfg, _, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	b, err := kvstore.Open(cfg.Store, logger.Named("kv"))
	if err != nil {
		return fmt.Errorf("failed to open store backend: %w", err)
	}
	defer closeBackend(b, logger)
	return fn(context.Background(), b, logger)
}

func closeBackend(b kvstore.Backend, logger *zap.Logger) {
	if err := b.Close(); err != nil {
		logger.Warn("failed to close store backend", zap.Error(err))
	}
}

// newLogger builds the logger of cfg and applies its level to the global
// logger as well.
func newLogger(cfg *Config) (*zap.Logger, error) {
	logger, err := mlog.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	lvl, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	mlog.SetLevel(lvl)
	return logger, nil
}

func newInitCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the store and measure the cost of one insertion.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(*cfgPath, func(ctx context.Context, b kvstore.Backend, logger *zap.Logger) error {
				s, err := recordstore.New(ctx, b, recordstore.Opts{Logger: logger.Named("store")})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s.Cost())
				return nil
			})
		},
	}
}

func newCostCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cost",
		Short: "Print the cost of one insertion.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(*cfgPath, func(ctx context.Context, b kvstore.Backend, logger *zap.Logger) error {
				s, err := recordstore.Open(ctx, b, recordstore.Opts{Logger: logger.Named("store")})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s.Cost())
				return nil
			})
		},
	}
}

func newGetCmd(cfgPath *string) *cobra.Command {
	var exists bool
	c := &cobra.Command{
		Use:   "get <kind> <account>",
		Short: "Print the record of an account.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := record.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withBackend(*cfgPath, func(ctx context.Context, b kvstore.Backend, logger *zap.Logger) error {
				s, err := recordstore.Open(ctx, b, recordstore.Opts{Logger: logger.Named("store")})
				if err != nil {
					return err
				}
				v, ok, err := registry.New(s).Lookup(ctx, kind, record.Owner(args[1]))
				if err != nil {
					return err
				}
				if exists {
					fmt.Fprintln(cmd.OutOrStdout(), ok)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
	c.Flags().BoolVar(&exists, "exists", false, "print whether the record exists instead of its value")
	return c
}

func newSetCmd(cfgPath *string) *cobra.Command {
	var (
		account string
		deposit uint64
	)
	c := &cobra.Command{
		Use:   "set <kind> <value>",
		Short: "Write a record as the given account.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := record.ParseKind(args[0])
			if err != nil {
				return err
			}
			return withBackend(*cfgPath, func(ctx context.Context, b kvstore.Backend, logger *zap.Logger) error {
				s, err := recordstore.Open(ctx, b, recordstore.Opts{Logger: logger.Named("store")})
				if err != nil {
					return err
				}
				action, err := registry.New(s).Set(ctx, registry.Caller{
					Account: record.Owner(account),
					Deposit: record.Amount(deposit),
				}, kind, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), action.Verb())
				return nil
			})
		},
	}
	c.Flags().StringVar(&account, "account", "", "caller account")
	c.Flags().Uint64Var(&deposit, "deposit", 0, "attached deposit")
	_ = c.MarkFlagRequired("account")
	return c
}

func absPath(p string) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	return filepath.Abs(p)
}
