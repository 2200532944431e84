package main

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/evmdebug/internal/debug"
	"github.com/dshills/evmdebug/internal/debug/dap"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Debug Adapter Protocol on stdio or TCP",
		Long: `Serve runs the debug adapter. Without --listen a single session is
served on stdin/stdout and logs go to stderr. With --listen every accepted
connection gets its own session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				a.cfg.Server.Listen = listen
			}
			opts, store, err := a.sessionOptions()
			if err != nil {
				return err
			}
			defer store.Close()

			if a.cfg.Server.Listen == "" {
				return serveStdio(cmd.Context(), opts)
			}
			return serveTCP(cmd.Context(), a.cfg.Server.Listen, opts)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "TCP address to listen on (default stdio)")
	return cmd
}

func serveStdio(ctx context.Context, opts debug.Options) error {
	// closing stdin unblocks the pending read once the client disconnects
	t := dap.NewStreamTransport(os.Stdin, os.Stdout, os.Stdin)
	return debug.NewSession(t, opts).Serve(ctx)
}

func serveTCP(ctx context.Context, address string, opts debug.Options) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return err
	}
	log.Info("Debug adapter listening", "addr", ln.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Warn("Accept failed", "err", err)
			continue
		}

		s := debug.NewSession(dap.NewRawTransport(conn), opts)
		log.Info("Client connected", "remote", conn.RemoteAddr(), "session", s.ID())
		g.Go(func() error {
			if err := s.Serve(ctx); err != nil {
				log.Warn("Session failed", "session", s.ID(), "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}
