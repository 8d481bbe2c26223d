package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/flowplan/pkg/kernel/trace"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect JSONL execution traces",
}

var traceVerifyCmd = &cobra.Command{
	Use:   "verify <trace.jsonl>",
	Short: "Check that a trace's hash chain is unbroken",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	res, err := trace.VerifyFile(args[0])
	if err != nil {
		return err
	}
	if !res.Valid {
		fmt.Printf("✗ %s: chain broken at event %d of %d read\n", args[0], res.BrokenAt, res.EventCount)
		fmt.Printf("  %s\n", res.Error)
		return fmt.Errorf("trace %s failed verification", args[0])
	}

	fmt.Printf("✓ %s: %d events, chain intact\n", args[0], res.EventCount)
	if len(res.RunIDs) > 0 {
		fmt.Printf("  Runs: %s\n", strings.Join(res.RunIDs, ", "))
		fmt.Printf("  Span: %s to %s\n", res.First.Format("2006-01-02 15:04:05"), res.Last.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("  Head: %s\n", res.ChainHash)
	return nil
}

func init() {
	traceCmd.AddCommand(traceVerifyCmd)
	rootCmd.AddCommand(traceCmd)
}
