package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/bootstrap"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/notebook"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/remote"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/server"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/submit"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/upstream"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		addr          string
		root          string
		skipBootstrap bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the upstream sync loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			api, err := g.client()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = g.cfg.ListenAddr
			}
			if root == "" {
				if root, err = os.Getwd(); err != nil {
					return err
				}
			}

			if !skipBootstrap {
				if _, err := newBootstrapper(g, api).Run(ctx); err != nil {
					return err
				}
			}

			submitter, err := newSubmitter(g, api)
			if err != nil {
				return err
			}
			engine := newEngine(g, api)
			srv := &server.Server{
				Catalog:   api,
				Submitter: submitter,
				Syncer:    engine,
				ReposDir:  g.cfg.ReposDir,
				Root:      root,
				Version:   version,
				Log:       &log.Logger,
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			return serve(ctx, ln, srv.Handler(), engine)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address; overrides listen_addr")
	cmd.Flags().StringVar(&root, "root", "", "directory clients see as / (default: working directory)")
	cmd.Flags().BoolVar(&skipBootstrap, "skip-bootstrap", false, "do not prepare the clone before serving")
	return cmd
}

// serve runs the HTTP server and the sync loop until ctx is cancelled or
// either of them fails.
func serve(ctx context.Context, ln net.Listener, h http.Handler, engine *upstream.Engine) error {
	httpSrv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		return engine.Run(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newEngine(g *globalOptions, api *remote.Client) *upstream.Engine {
	return &upstream.Engine{
		Courses:  api,
		ReposDir: g.cfg.ReposDir,
		Locker:   g.locker,
		Interval: g.cfg.SyncInterval,
		Log:      &log.Logger,
	}
}

func newSubmitter(g *globalOptions, api *remote.Client) (*submit.Submitter, error) {
	s := &submit.Submitter{
		Catalog: api,
		Locker:  g.locker,
		Log:     &log.Logger,
	}
	if g.cfg.NotebookCommand != "" {
		gen, err := notebook.NewGenerator(g.cfg.NotebookCommand)
		if err != nil {
			return nil, err
		}
		s.Artifacts = gen
	}
	return s, nil
}

func newBootstrapper(g *globalOptions, api *remote.Client) *bootstrap.Bootstrapper {
	return &bootstrap.Bootstrapper{
		API:              api,
		ReposDir:         g.cfg.ReposDir,
		UserName:         g.cfg.UserName,
		Password:         g.cfg.UserPassword,
		CredentialHelper: g.cfg.CredentialHelper,
		Local:            g.cfg.Local,
		SSHDirName:       g.cfg.SSHDirName,
		Log:              &log.Logger,
	}
}
