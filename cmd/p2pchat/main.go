package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Operative-001/p2pchat/internal/node"
	"github.com/Operative-001/p2pchat/internal/protocol"
)

var rootCmd = &cobra.Command{
	Use:   "p2pchat <listening_port>",
	Short: "Peer-to-peer chat over TCP.",
	Long: `p2pchat listens for peers on the given port while you connect out to others.

Every connection, inbound or outbound, gets a small numeric id. Use it with
send and terminate. Type 'help' at the prompt for the command list.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected exactly one argument, the listening port")
		}
		if _, err := protocol.ParsePort(args[0]); err != nil {
			return fmt.Errorf("invalid listening port %q: must be an integer in 1-65535", args[0])
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		port, _ := protocol.ParsePort(args[0])
		closeTimeout, _ := cmd.Flags().GetDuration("close-timeout")
		dialTimeout, _ := cmd.Flags().GetDuration("dial-timeout")
		writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
		logLevel, _ := cmd.Flags().GetString("log-level")

		setupLogging(logLevel)

		n, err := node.New(node.Config{
			Port:         port,
			CloseTimeout: closeTimeout,
			DialTimeout:  dialTimeout,
			WriteTimeout: writeTimeout,
			Out:          cmd.OutOrStdout(),
			Logger:       log.Logger,
		})
		if err != nil {
			return err
		}
		if err := n.Start(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return n.Run(ctx, cmd.InOrStdin())
	},
}

// setupLogging sends diagnostics to stderr so they never mix with the
// operator's console on stdout.
func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using warn")
	}
}

func init() {
	rootCmd.Flags().Duration("close-timeout", 5*time.Second, "How long a graceful close may take before the socket is forced shut")
	rootCmd.Flags().Duration("dial-timeout", 10*time.Second, "Timeout for outbound connects")
	rootCmd.Flags().Duration("write-timeout", 10*time.Second, "Timeout for a single send")
	rootCmd.Flags().String("log-level", "warn", "Diagnostic log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
