package coremain

import (
	"context"
	"fmt"
	"os"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neardns/neardns/pkg/mlog"
)

type serverService struct {
	f *serverFlags

	cancel context.CancelFunc
	done   chan error
}

func (ss *serverService) Start(s service.Service) error {
	srv, err := newServerFromFlags(ss.f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	ss.cancel = cancel
	ss.done = make(chan error, 1)
	go func() {
		err := srv.Run(ctx)
		if err != nil {
			mlog.L().Error("server exited", zap.Error(err))
		}
		ss.done <- err
		if ctx.Err() == nil {
			// Exited on its own, let the service manager know.
			os.Exit(1)
		}
	}()
	return nil
}

func (ss *serverService) Stop(s service.Service) error {
	if ss.cancel == nil {
		return nil
	}
	ss.cancel()
	return <-ss.done
}

func newSvc(f *serverFlags) (service.Service, error) {
	cfg := &service.Config{
		Name:        "neardns",
		DisplayName: "neardns",
		Description: "Owner-keyed record store with storage-cost admission.",
	}
	if f != nil {
		args := []string{"start"}
		if len(f.c) > 0 {
			args = append(args, "-c", f.c)
		}
		if len(f.dir) > 0 {
			args = append(args, "-d", f.dir)
		}
		cfg.Arguments = args
	}
	return service.New(&serverService{f: f}, cfg)
}

func runAsService(sf *serverFlags) error {
	s, err := newSvc(sf)
	if err != nil {
		return fmt.Errorf("failed to init service, %w", err)
	}
	return s.Run()
}

func newServiceCmd() *cobra.Command {
	svcCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage neardns as a system service.",
	}

	sf := new(serverFlags)
	installCmd := &cobra.Command{
		Use:   "install [-d working_dir] [-c config_file]",
		Short: "Install neardns as a system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			if sf.c, err = absPath(c); err != nil {
				return err
			}
			if len(sf.dir) == 0 {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get current working directory, %w", err)
				}
				sf.dir = wd
			} else if sf.dir, err = absPath(sf.dir); err != nil {
				return err
			}
			s, err := newSvc(sf)
			if err != nil {
				return err
			}
			return s.Install()
		},
		DisableFlagsInUseLine: true,
	}
	installCmd.Flags().StringVarP(&sf.dir, "dir", "d", "", "working dir")

	control := func(use, short string, fn func(s service.Service) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := newSvc(nil)
				if err != nil {
					return err
				}
				return fn(s)
			},
		}
	}

	svcCmd.AddCommand(
		installCmd,
		control("uninstall", "Uninstall neardns from system service.", service.Service.Uninstall),
		control("start", "Start neardns system service.", service.Service.Start),
		control("stop", "Stop neardns system service.", service.Service.Stop),
		control("restart", "Restart neardns system service.", service.Service.Restart),
		control("status", "Status of neardns system service.", func(s service.Service) error {
			st, err := s.Status()
			if err != nil {
				return err
			}
			switch st {
			case service.StatusRunning:
				fmt.Println("running")
			case service.StatusStopped:
				fmt.Println("stopped")
			default:
				fmt.Println("unknown")
			}
			return nil
		}),
	)
	return svcCmd
}
