package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	qerrors "github.com/mokkunsuzuki-code/stage106/internal/errors"
	"github.com/mokkunsuzuki-code/stage106/pkg/channel"
	"github.com/mokkunsuzuki-code/stage106/pkg/message"
	"github.com/mokkunsuzuki-code/stage106/pkg/metrics"
)

var connectCmd = &cobra.Command{
	Use:   "connect [server-address]",
	Short: "Connect to a chat server",
	Long: `connect dials a server, runs the initiator handshake, and starts an
interactive session. Lines read from stdin are sent as encrypted chat.

Commands:
  /ping   send a heartbeat and print the measured round-trip time
  /quit   close the session in order and exit

With --server-key the server must sign its handshake with the matching
secret key; unsigned or mis-signed handshakes are rejected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().String("server-key", "", "path to the server's public key; makes a signed handshake mandatory")
	connectCmd.Flags().Duration("heartbeat-interval", 0, "period for automatic heartbeats (0 disables)")
	addSessionFlags(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if len(args) == 1 {
		cfg.Network.DialAddr = args[0]
	}
	if flags.Changed("server-key") {
		cfg.Keys.PeerPublicPath, _ = flags.GetString("server-key")
	}
	if flags.Changed("heartbeat-interval") {
		d, _ := flags.GetDuration("heartbeat-interval")
		cfg.Session.HeartbeatInterval.Duration = d
	}

	logger := buildLogger(cfg)
	collector := metrics.NewCollector(metrics.Labels{"component": "client"})

	ccfg, err := buildChannelConfig(cfg, collector, logger)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.HandshakeTimeout.Duration)
	sess, err := channel.Dial(dialCtx, "tcp", cfg.Network.DialAddr, ccfg)
	cancel()
	if err != nil {
		return err
	}

	fmt.Printf("✓ Secure session %s established with %s\n", sess.ID(), sess.RemoteAddr())
	if ccfg.Verifier != nil {
		fmt.Println("✓ Server identity verified")
	}
	fmt.Println("Type a message and press Enter. /ping measures RTT, /quit exits.")

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		receiveLoop(sess, logger)
	}()

	if interval := cfg.Session.HeartbeatInterval.Duration; interval > 0 {
		go heartbeatLoop(sess, interval, recvDone)
	}

	inputLoop(sess, recvDone, logger)
	<-recvDone
	return nil
}

// inputLoop reads stdin until /quit, end of input, or session teardown.
func inputLoop(sess *channel.Session, recvDone <-chan struct{}, logger *metrics.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-recvDone:
			return
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Warn("stdin read failed", metrics.Fields{"error": err.Error()})
			}
			// End of input takes the session down with it.
			_ = sess.Close()
			return
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":

		case line == "/quit":
			if err := sess.Close(); err != nil {
				logger.Warn("close failed", metrics.Fields{"error": err.Error()})
			}
			return

		case line == "/ping":
			if !sendOrReport(sess, message.NewHeartbeat(time.Now())) {
				return
			}
			sess.Observer().OnHeartbeatSent()

		default:
			if !sendOrReport(sess, message.NewChat(line)) {
				return
			}
		}
	}
}

// sendOrReport sends an envelope and reports failures to the user. It
// returns false once the session is gone and the input loop should stop;
// delivery failures leave the session usable, so they only print.
func sendOrReport(sess *channel.Session, env *message.Envelope) bool {
	err := sess.SendEnvelope(env)
	if err == nil {
		return true
	}
	if qerrors.Is(err, qerrors.ErrSessionClosed) {
		return false
	}
	fmt.Printf("! send failed: %v\n", err)
	return true
}

// receiveLoop prints everything the server sends until the session ends.
func receiveLoop(sess *channel.Session, logger *metrics.Logger) {
	for {
		payload, err := sess.Receive()
		if err != nil {
			if qerrors.Is(err, qerrors.ErrSessionClosed) {
				fmt.Println("Session closed.")
			} else {
				fmt.Printf("! session failed: %v\n", err)
			}
			return
		}

		env, err := message.Decode(payload)
		if err != nil {
			logger.Warn("malformed envelope", metrics.Fields{"error": err.Error()})
			continue
		}

		switch env.Type {
		case message.KindChat:
			fmt.Printf("<< %s\n", env.Payload.Text)

		case message.KindHeartbeatAck:
			rtt := env.RTT(time.Now())
			sess.Observer().OnHeartbeatAcked(rtt)
			fmt.Printf("Heartbeat acknowledged: RTT %.1f ms\n", rtt.Seconds()*1000)

		case message.KindHeartbeat:
			// Unusual direction, but answer it so either end can probe.
			_ = sess.SendEnvelope(message.NewHeartbeatAck(env, time.Now()))
		}
	}
}

// heartbeatLoop sends periodic heartbeats until the session ends.
func heartbeatLoop(sess *channel.Session, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sess.SendEnvelope(message.NewHeartbeat(time.Now())); err != nil {
				return
			}
			sess.Observer().OnHeartbeatSent()
		case <-done:
			return
		}
	}
}
