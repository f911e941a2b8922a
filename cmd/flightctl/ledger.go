package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// ── mission ──────────────────────────────────────────────────────────────────

func newMissionCmd(g *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mission",
		Short: "Read or write a mission's ledger slot directly",
	}

	get := &cobra.Command{
		Use:   "get <mission-id>",
		Short: "Show the ledger slot of a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			m, err := c.GetMission(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json() {
				return writeJSON(out, m)
			}
			fmt.Fprintf(out, "Mission:     %s\n", m.MissionID)
			fmt.Fprintf(out, "Key:         %s (%s)\n", m.MissionKey, m.KeyKind)
			if !m.Exists {
				fmt.Fprintln(out, "Record:      none")
				return nil
			}
			fmt.Fprintf(out, "S3 key:      %s\n", m.S3Key)
			fmt.Fprintf(out, "Uploader:    %s\n", m.Uploader)
			fmt.Fprintf(out, "Timestamp:   %s\n", m.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
			if m.SeqNo > 0 {
				fmt.Fprintf(out, "Seq:         %d\n", m.SeqNo)
			}
			if m.TipHash != "" {
				fmt.Fprintf(out, "Tip:         %s\n", m.TipHash)
			}
			return nil
		},
	}

	log := &cobra.Command{
		Use:   "log <mission-id> <s3-key>",
		Short: "Write an s3 key to a mission's ledger slot as-is",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			r, err := c.LogMission(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if g.json() {
				return writeJSON(cmd.OutOrStdout(), r)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged %s (tx %s, %s)\n", args[0], r.TxHash, r.Status)
			return nil
		},
	}

	cmd.AddCommand(get, log)
	return cmd
}

// ── journal ──────────────────────────────────────────────────────────────────

func newJournalCmd(g *cli) *cobra.Command {
	var flightID string
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show the checkpoint journal or one flight's history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if flightID == "" {
				st, err := c.Journal(cmd.Context())
				if err != nil {
					return err
				}
				if g.json() {
					return writeJSON(out, st)
				}
				fmt.Fprintf(out, "Entries:     %d\n", st.Entries)
				fmt.Fprintf(out, "Root:        %s\n", st.Root)
				return nil
			}

			entries, err := c.History(cmd.Context(), flightID)
			if err != nil {
				return err
			}
			if g.json() {
				return writeJSON(out, entries)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tSEQ\tTIP\tVERSION\tRUN")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", e.Index, e.SeqNo, e.TipHash, e.StorageVersion, e.RunID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&flightID, "flight", "", "show the history of one flight")

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Walk the journal hash chain on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if err := c.VerifyJournal(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "journal OK")
			return nil
		},
	})
	return cmd
}

// ── chain ────────────────────────────────────────────────────────────────────

func newChainCmd(g *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "chain",
		Short: "Show the server's ledger connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			info, err := c.Chain(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json() {
				return writeJSON(out, info)
			}
			fmt.Fprintf(out, "Backend:     %s\n", info.Backend)
			fmt.Fprintf(out, "Connected:   %t\n", info.Connected)
			if info.RPCURL != "" {
				fmt.Fprintf(out, "RPC:         %s\n", info.RPCURL)
				fmt.Fprintf(out, "Chain ID:    %d (node %d)\n", info.ConfiguredChainID, info.NodeChainID)
				fmt.Fprintf(out, "Contract:    %s\n", info.ContractAddress)
			}
			fmt.Fprintf(out, "Block:       %d\n", info.LatestBlock)
			fmt.Fprintf(out, "Account:     %s\n", info.AccountAddress)
			return nil
		},
	}
}
