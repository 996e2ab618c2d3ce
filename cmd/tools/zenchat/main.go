package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhouzirui/zen-companion/backend/internal/consumer"
)

const (
	transportSSE = "sse"
	transportWS  = "ws"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliOptions struct {
	server    string
	transport string
	execute   string
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:          "zenchat",
		Short:        "Terminal client for the Zen companion relay",
		Long:         "Chat with the Zen wellness companion from a terminal, one-shot or interactively.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := resolveOptions(v)
			if err != nil {
				return err
			}
			transport := newTransport(opts)
			if strings.TrimSpace(opts.execute) != "" {
				return runOneShot(cmd.Context(), cmd.OutOrStdout(), transport, opts.execute)
			}
			return runInteractive(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts, transport)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "Relay base URL")
	flags.String("transport", transportSSE, "Relay transport: sse|ws")
	flags.StringP("execute", "e", "", "Send a single message, print the reply and exit")

	// Flags win over ZENCHAT_* environment variables, which win over defaults.
	v.SetEnvPrefix("ZENCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)

	return rootCmd
}

func resolveOptions(v *viper.Viper) (cliOptions, error) {
	opts := cliOptions{
		server:    strings.TrimSpace(v.GetString("server")),
		transport: strings.ToLower(strings.TrimSpace(v.GetString("transport"))),
		execute:   v.GetString("execute"),
	}
	if opts.server == "" {
		return cliOptions{}, fmt.Errorf("server URL is required")
	}
	if opts.transport != transportSSE && opts.transport != transportWS {
		return cliOptions{}, fmt.Errorf("unsupported transport %q (want sse or ws)", opts.transport)
	}
	return opts, nil
}

// newTransport picks the relay transport. Replies are bounded by the server's
// ceiling only; the client never times out on its own.
func newTransport(opts cliOptions) consumer.Transport {
	if opts.transport == transportWS {
		return consumer.NewWebSocketTransport(opts.server, nil)
	}
	return consumer.NewHTTPTransport(opts.server, nil)
}
