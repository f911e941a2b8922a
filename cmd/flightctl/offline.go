package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/jmerrifield20/uavledger/internal/chain"
	"github.com/jmerrifield20/uavledger/internal/chunk"
	"github.com/spf13/cobra"
)

// ── plan ─────────────────────────────────────────────────────────────────────

func newPlanCmd(g *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <total-records> <chunks>",
		Short: "Print the cumulative cut points for a chunk plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("total records: %w", err)
			}
			chunks, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("chunks: %w", err)
			}
			cuts, err := chunk.Plan(total, chunks)
			if err != nil {
				return err
			}
			if chunk.Sparse(total, chunks) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d chunks over %d records leaves empty chunks\n", chunks, total)
			}
			if g.json() {
				return writeJSON(cmd.OutOrStdout(), cuts)
			}
			for i, c := range cuts {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%d\n", i+1, c)
			}
			return nil
		},
	}
}

// ── tip ──────────────────────────────────────────────────────────────────────

type tipRow struct {
	SeqNo   int          `json:"seq_no"`
	Records int          `json:"records"`
	Tip     chain.Digest `json:"tip"`
}

func newTipCmd(g *cli) *cobra.Command {
	var chunks int
	cmd := &cobra.Command{
		Use:   "tip <log-file>",
		Short: "Compute the rolling tip of every checkpoint locally",
		Long: `Tip splits a local log file exactly as anchord would and prints the
tip after each chunk. The last tip is what verify expects for the full log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			src, err := chunk.ReadLineSource(f)
			if err != nil {
				return err
			}
			cuts, err := chunk.Plan(src.Total(), chunks)
			if err != nil {
				return err
			}
			tips, err := chain.Replay(src, cuts)
			if err != nil {
				return err
			}

			rows := make([]tipRow, len(tips))
			for i, t := range tips {
				rows[i] = tipRow{SeqNo: i + 1, Records: cuts[i], Tip: t}
			}
			if g.json() {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tRECORDS\tTIP")
			for _, r := range rows {
				fmt.Fprintf(w, "%d\t%d\t%s\n", r.SeqNo, r.Records, r.Tip.Hex())
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&chunks, "chunks", 0, "number of chunks (required)")
	_ = cmd.MarkFlagRequired("chunks")
	return cmd
}
