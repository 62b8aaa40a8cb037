package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mokkunsuzuki-code/stage106/pkg/channel"
	"github.com/mokkunsuzuki-code/stage106/pkg/message"
	"github.com/mokkunsuzuki-code/stage106/pkg/metrics"
)

// shutdownGrace bounds how long serve waits for active sessions to close
// after SIGINT or SIGTERM.
const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the multi-client chat server",
	Long: `serve accepts connections, runs the responder handshake on each, and
prints decrypted chat lines to stdout. Heartbeats are acknowledged
automatically. With --echo every chat line is also answered back to its
sender.

Clients only verify the server when it signs handshakes, so production
servers should run with --signer-key.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("listen", "l", "", "listen address (host:port)")
	serveCmd.Flags().String("signer-key", "", "path to the ML-DSA-65 secret key used to sign handshake transcripts")
	serveCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	serveCmd.Flags().Bool("echo", false, "answer each chat line back to its sender")
	addSessionFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Network.ListenAddr, _ = flags.GetString("listen")
	}
	if flags.Changed("signer-key") {
		cfg.Keys.SignerSecretPath, _ = flags.GetString("signer-key")
	}
	if flags.Changed("metrics-addr") {
		cfg.Network.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	echo, _ := flags.GetBool("echo")

	logger := buildLogger(cfg)
	collector := metrics.NewCollector(metrics.Labels{"component": "server"})

	ccfg, err := buildChannelConfig(cfg, collector, logger)
	if err != nil {
		return err
	}

	mgr, err := channel.NewManager(ccfg)
	if err != nil {
		return err
	}
	if err := mgr.Listen("tcp", cfg.Network.ListenAddr); err != nil {
		return err
	}

	fmt.Printf("✓ Listening on %s\n", mgr.Addr())
	if ccfg.Signer != nil {
		fmt.Println("✓ Handshake transcripts will be signed")
	}

	if cfg.Network.MetricsAddr != "" {
		go func() {
			if err := metrics.ServePrometheus(cfg.Network.MetricsAddr, collector, "qschat"); err != nil {
				logger.Error("metrics endpoint failed", metrics.Fields{"error": err.Error()})
			}
		}()
		fmt.Printf("✓ Metrics on http://%s/metrics\n", cfg.Network.MetricsAddr)
	}

	fmt.Println("Waiting for connections... (Press Ctrl+C to stop)")

	handler := func(sess *channel.Session, env *message.Envelope) {
		if env.Type != message.KindChat {
			return
		}
		fmt.Printf("[%s] %s\n", sess.RemoteAddr(), env.Payload.Text)
		if echo {
			if err := sess.SendEnvelope(message.NewChat("Echo: " + env.Payload.Text)); err != nil {
				logger.Warn("echo failed", metrics.Fields{
					"session_id": sess.ID(),
					"error":      err.Error(),
				})
			}
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- mgr.Serve(handler) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := mgr.Shutdown(ctx); err != nil {
			return err
		}
		return <-serveErr
	case err := <-serveErr:
		return err
	}
}
