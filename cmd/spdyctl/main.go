// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

// Command spdyctl runs a SPDY echo server and probes SPDY servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DanielMorsing/spdy"
	"github.com/DanielMorsing/spdy/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	var cfg appConfig
	var log *zap.Logger

	root := &cobra.Command{
		Use:           "spdyctl",
		Short:         "spdyctl serves and probes SPDY/3 sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(cfgFile)
			if err != nil {
				return err
			}
			log = observability.NewStderrLogger(cfg.Log)
			cfg.Session.Logger = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "TOML config file")

	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run an echo server until interrupted, then shut down with GOAWAY",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Listen = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, log)
		},
	}
	serve.Flags().StringVarP(&addr, "listen", "l", "", "address to listen on")

	var streams int
	var message string
	var useTLS bool
	probe := &cobra.Command{
		Use:   "probe <addr>",
		Short: "Open streams against a server, ping it, and go away",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return runProbe(ctx, cmd.OutOrStdout(), args[0], useTLS, streams, message, cfg.Session)
		},
	}
	probe.Flags().IntVarP(&streams, "streams", "n", 3, "number of streams to open")
	probe.Flags().StringVarP(&message, "message", "m", "hello", "data sent on each stream")
	probe.Flags().BoolVar(&useTLS, "tls", false, "negotiate spdy/3 over TLS")

	root.AddCommand(serve, probe)
	return root
}

func runServe(ctx context.Context, cfg appConfig, log *zap.Logger) error {
	srv := &spdy.Server{
		Addr:    cfg.Listen,
		Handler: &echoHandler{log: log},
		Config:  cfg.Session,
	}
	errch := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Listen), zap.Bool("tls", cfg.TLSCert != ""))
		if cfg.TLSCert != "" {
			errch <- srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
			return
		}
		errch <- srv.ListenAndServe()
	}()

	select {
	case err := <-errch:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", zap.Duration("grace", cfg.Grace))
	srv.GoAway(spdy.StatusOK)
	deadline := time.After(cfg.Grace)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
drain:
	for srv.NumSessions() > 0 {
		select {
		case <-tick.C:
		case <-deadline:
			log.Warn("grace period over, closing", zap.Int("sessions", srv.NumSessions()))
			break drain
		}
	}
	srv.Close()
	if err := <-errch; !errors.Is(err, spdy.ErrServerClosed) {
		return err
	}
	return nil
}

func runProbe(ctx context.Context, out io.Writer, addr string, useTLS bool, n int, message string, cfg spdy.Config) error {
	var sess *spdy.Session
	var err error
	if useTLS {
		sess, err = spdy.DialTLS(addr, nil, cfg, nil)
	} else {
		sess, err = spdy.Dial(addr, cfg, nil)
	}
	if err != nil {
		return err
	}
	defer sess.Close()

	results := make(chan probeResult, n)
	for i := 0; i < n; i++ {
		hdr := http.Header{
			":method":  {"POST"},
			":path":    {fmt.Sprintf("/probe/%d", i)},
			":version": {"HTTP/1.1"},
		}
		str, err := sess.Syn(spdy.SynInfo{Headers: hdr}, &probeStream{done: results})
		if err != nil {
			return fmt.Errorf("open stream %d: %w", i, err)
		}
		if err := str.Data(spdy.DataInfo{Data: []byte(message), Final: true}); err != nil {
			return fmt.Errorf("stream %d: %w", str.Id(), err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case r := <-results:
			fmt.Fprintf(out, "stream %d: status %s, %q\n", r.id, r.status, r.body)
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.Done():
			return fmt.Errorf("session closed: %w", sess.Err())
		}
	}

	rtt, err := sess.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	fmt.Fprintf(out, "ping: %s\n", rtt)

	if err := sess.GoAway(spdy.StatusOK); err != nil {
		return err
	}
	select {
	case <-sess.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Fprintln(out, "goaway: session closed")
	return nil
}
