package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jmerrifield20/uavledger/pkg/client"
	"github.com/spf13/cobra"
)

// ── emit ─────────────────────────────────────────────────────────────────────

func newEmitCmd(g *cli) *cobra.Command {
	var opts client.EmitOptions
	cmd := &cobra.Command{
		Use:   "emit <flight-id> <log-file>",
		Short: "Upload a flight log and anchor it chunk by chunk",
		Long: `Emit uploads the log file to anchord, which writes each chunk to
versioned storage and anchors the rolling tip on the ledger.

If the run stops part-way, the checkpoints already anchored are printed and
the command fails with the last sequence number written. Resume with:

  flightctl emit flight-001 flight.log --chunks 10 --start-seq <last+1>`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := c.Emit(cmd.Context(), args[0], f, opts)
			if res != nil && len(res.Checkpoints) > 0 {
				if perr := printCheckpoints(cmd, g, res); perr != nil {
					return perr
				}
			}
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Component != "" {
				return fmt.Errorf("run stopped in %s after seq %d: %s", apiErr.Component, apiErr.LastSeq, apiErr.Message)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&opts.Chunks, "chunks", 0, "number of chunks (required)")
	cmd.Flags().IntVar(&opts.StartSeq, "start-seq", 0, "resume from this sequence number")
	cmd.Flags().StringVar(&opts.PriorTip, "prior-tip", "", "tip of start-seq-1 when resuming (0x + 64 hex)")
	_ = cmd.MarkFlagRequired("chunks")
	return cmd
}

func printCheckpoints(cmd *cobra.Command, g *cli, res *client.EmitResult) error {
	out := cmd.OutOrStdout()
	if g.json() {
		return writeJSON(out, res)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tRECORDS\tTIP\tVERSION\tTX")
	for _, r := range res.Checkpoints {
		tx := ""
		if r.Receipt != nil {
			tx = r.Receipt.TxHash
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n",
			r.Checkpoint.SeqNo, r.CumulativeRecords, r.Checkpoint.TipHash, r.Checkpoint.S3VersionID, tx)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, r := range res.Checkpoints {
		if r.JournalError != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: seq %d anchored but not journaled (%s); resume with --prior-tip\n",
				r.Checkpoint.SeqNo, r.JournalError)
		}
	}
	return nil
}

// ── verify ───────────────────────────────────────────────────────────────────

func newVerifyCmd(g *cli) *cobra.Command {
	var tip string
	cmd := &cobra.Command{
		Use:   "verify <flight-id>",
		Short: "Check a flight's stored log against its ledger anchor",
		Long: `Verify recomputes the rolling tip from the stored versions and compares
it with --tip and with the anchored tip. Without --tip the anchored tip is
checked against storage. A mismatch exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			v, err := c.Verify(cmd.Context(), args[0], tip)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if g.json() {
				if err := writeJSON(out, v); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "Flight:      %s\n", v.FlightID)
				fmt.Fprintf(out, "Status:      %s\n", v.Status)
				if v.SeqNo > 0 {
					fmt.Fprintf(out, "Seq:         %d\n", v.SeqNo)
				}
				if v.RecomputedTip != "" {
					fmt.Fprintf(out, "Recomputed:  %s\n", v.RecomputedTip)
				}
				if v.AnchoredTip != "" {
					fmt.Fprintf(out, "Anchored:    %s\n", v.AnchoredTip)
				}
				if v.StorageVersion != "" {
					fmt.Fprintf(out, "Version:     %s\n", v.StorageVersion)
				}
				for _, m := range v.Mismatches {
					fmt.Fprintf(out, "  %s: expected %s, got %s\n", m.Field, m.Expected, m.Actual)
				}
			}
			if v.Status == "MISMATCH" {
				return fmt.Errorf("flight %s does not match its anchor", v.FlightID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tip, "tip", "", "expected tip (0x + 64 hex); defaults to the anchored tip")
	return cmd
}

// ── flights / versions ───────────────────────────────────────────────────────

func newFlightsCmd(g *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "flights",
		Short: "List stored flights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			flights, err := c.ListFlights(cmd.Context())
			if err != nil {
				return err
			}
			if g.json() {
				return writeJSON(cmd.OutOrStdout(), flights)
			}
			for _, f := range flights {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}

func newVersionsCmd(g *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <flight-id>",
		Short: "List stored versions of a flight log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			versions, err := c.Versions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if g.json() {
				return writeJSON(cmd.OutOrStdout(), versions)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tSIZE\tMODIFIED\tLATEST")
			for _, v := range versions {
				fmt.Fprintf(w, "%s\t%d\t%s\t%t\n", v.ID, v.Size, v.LastModified.Format("2006-01-02T15:04:05Z07:00"), v.IsLatest)
			}
			return w.Flush()
		},
	}
}
