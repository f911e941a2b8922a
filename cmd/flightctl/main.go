// Command flightctl is the command-line client for anchord, plus offline
// tools for planning chunks and computing rolling tips locally.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jmerrifield20/uavledger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli holds the persistent flags shared by every subcommand.
type cli struct {
	serverURL string
	cfgFile   string
	apiKey    string
	timeout   time.Duration
	format    string
}

func newRootCmd() *cobra.Command {
	g := &cli{}
	root := &cobra.Command{
		Use:   "flightctl",
		Short: "Flight-log anchoring CLI",
		Long: `flightctl uploads flight logs to anchord, verifies them against the
ledger and inspects the checkpoint journal.

The plan and tip commands run offline and need no server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if g.cfgFile != "" {
				v.SetConfigFile(g.cfgFile)
			} else {
				home, _ := os.UserHomeDir()
				v.AddConfigPath(home + "/.flightctl")
				v.SetConfigName("config")
				v.SetConfigType("yaml")
			}
			v.SetEnvPrefix("FLIGHTCTL")
			v.AutomaticEnv()
			_ = v.ReadInConfig()

			if g.serverURL == "" {
				g.serverURL = v.GetString("server_url")
			}
			if g.serverURL == "" {
				g.serverURL = "http://localhost:8080"
			}
			if g.apiKey == "" {
				g.apiKey = v.GetString("api_key")
			}
			if g.format != "text" && g.format != "json" {
				return fmt.Errorf("unknown --format %q (want text or json)", g.format)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.cfgFile, "config", "", "config file (default ~/.flightctl/config.yaml)")
	pf.StringVar(&g.serverURL, "server", "", "anchord base URL (default http://localhost:8080)")
	pf.StringVar(&g.apiKey, "api-key", "", "Bearer token for an authenticating proxy")
	pf.DurationVar(&g.timeout, "timeout", 5*time.Minute, "per-request timeout")
	pf.StringVar(&g.format, "format", "text", "Output format: text or json")

	root.AddCommand(
		newEmitCmd(g),
		newVerifyCmd(g),
		newFlightsCmd(g),
		newVersionsCmd(g),
		newMissionCmd(g),
		newJournalCmd(g),
		newChainCmd(g),
		newPlanCmd(g),
		newTipCmd(g),
		newVersionCmd(),
	)
	return root
}

func (g *cli) client() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(g.timeout)}
	if g.apiKey != "" {
		opts = append(opts, client.WithAPIKey(g.apiKey))
	}
	return client.New(g.serverURL, opts...)
}

func (g *cli) json() bool { return g.format == "json" }

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── version ──────────────────────────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the flightctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flightctl %s\n", version)
		},
	}
}
