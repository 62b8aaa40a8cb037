// Command qschat runs encrypted chat sessions whose keys mix a pre-shared
// quantum-distributed secret with an ephemeral X25519 exchange.
//
// Subcommands:
//
//	serve    run the multi-client server
//	connect  dial a server and chat interactively
//	keygen   generate an ML-DSA-65 signing identity
//	version  print version information
//
// Both endpoints must hold the same 32-byte QKD key file. Its provisioning
// is out of band; for local experiments:
//
//	head -c 32 /dev/urandom > qkd.key
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mokkunsuzuki-code/stage106/internal/config"
	"github.com/mokkunsuzuki-code/stage106/pkg/channel"
	"github.com/mokkunsuzuki-code/stage106/pkg/keymat"
	"github.com/mokkunsuzuki-code/stage106/pkg/metrics"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "qschat",
	Short: "Encrypted chat over a QKD-seeded hybrid channel",
	Long: `qschat tunnels chat through AES-256-GCM records keyed by HKDF over a
pre-shared QKD secret and an ephemeral X25519 agreement, so recorded
traffic stays confidential even if one of the two key sources is later
compromised. Servers can additionally sign the handshake transcript with
an ML-DSA-65 identity that clients pin.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error, silent")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
}

// addSessionFlags registers the protocol knobs shared by serve and connect.
func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("qkd-key", "k", "", "path to the 32-byte pre-shared QKD key file")
	cmd.Flags().Duration("ack-timeout", 0, "how long a record waits for its ACK before retransmitting")
	cmd.Flags().Duration("handshake-timeout", 0, "bound on the whole HELLO exchange")
	cmd.Flags().Int("max-retries", 0, "retransmissions per record before giving up (0 default, negative disables)")
}

// loadConfig assembles the effective configuration: defaults, then the
// config file if one was given, then command-line flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	flags := cmd.Flags()
	if flags.Changed("qkd-key") {
		cfg.Keys.QKDKeyPath, _ = flags.GetString("qkd-key")
	}
	if flags.Changed("ack-timeout") {
		d, _ := flags.GetDuration("ack-timeout")
		cfg.Session.AckTimeout.Duration = d
	}
	if flags.Changed("handshake-timeout") {
		d, _ := flags.GetDuration("handshake-timeout")
		cfg.Session.HandshakeTimeout.Duration = d
	}
	if flags.Changed("max-retries") {
		cfg.Session.MaxRetries, _ = flags.GetInt("max-retries")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildLogger configures the process-wide logger from the config. Log
// output goes to stderr; stdout belongs to the chat frontend.
func buildLogger(cfg *config.Config) *metrics.Logger {
	logger := metrics.NewLogger(
		metrics.WithLevel(metrics.ParseLevel(cfg.Log.Level)),
		metrics.WithFormat(metrics.ParseFormat(cfg.Log.Format)),
	)
	metrics.SetLogger(logger)
	return logger
}

// buildChannelConfig loads the key material named in cfg and assembles the
// session configuration shared by serve and connect. The signer is only
// consulted on responders and the verifier only on initiators, so both are
// loaded whenever their paths are set.
func buildChannelConfig(cfg *config.Config, collector *metrics.Collector, logger *metrics.Logger) (channel.Config, error) {
	if cfg.Keys.QKDKeyPath == "" {
		return channel.Config{}, fmt.Errorf("a QKD key file is required (--qkd-key or keys.qkd_key_path)")
	}
	qkd, err := keymat.LoadQKDKey(cfg.Keys.QKDKeyPath)
	if err != nil {
		return channel.Config{}, err
	}

	ccfg := channel.Config{
		QKDKey:           qkd,
		AckTimeout:       cfg.Session.AckTimeout.Duration,
		MaxRetries:       cfg.Session.MaxRetries,
		HandshakeTimeout: cfg.Session.HandshakeTimeout.Duration,
		Collector:        collector,
		Tracer:           metrics.NewOTelTracer("qschat"),
		Logger:           logger,
	}

	if cfg.Keys.SignerSecretPath != "" {
		signer, err := keymat.LoadSigner(cfg.Keys.SignerSecretPath)
		if err != nil {
			return channel.Config{}, err
		}
		ccfg.Signer = signer
	}
	if cfg.Keys.PeerPublicPath != "" {
		verifier, err := keymat.LoadVerifier(cfg.Keys.PeerPublicPath)
		if err != nil {
			return channel.Config{}, err
		}
		ccfg.Verifier = verifier
	}

	return ccfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
