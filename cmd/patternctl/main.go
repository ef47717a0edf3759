// Package main implements the patternctl CLI for manual operations
// against the patternd daemon over NATS request/reply.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patternd/internal/events"
	"github.com/fyrsmithlabs/patternd/internal/governance"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

var (
	// natsURL is the bus address patternd listens on
	natsURL string
	// requestTimeout bounds each request/reply round trip
	requestTimeout time.Duration
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patternctl",
	Short: "CLI for patternd lifecycle governance operations",
	Long: `patternctl is a command-line interface for the patternd daemon.
It triggers gate scans and manual lifecycle transitions over NATS.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(reenableCmd)
}

var (
	scanType      string
	scanDryRun    bool
	scanOverride  bool
	scanRequestID string

	minInjections    int
	minSuccessRate   float64
	maxSuccessRate   float64
	maxFailureStreak int
	minFailureStreak int
	cooldownHours    float64
)

// scanCmd runs a promotion or demotion gate scan
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a lifecycle gate scan",
	Long: `Run a promotion or demotion gate scan across all eligible patterns.

Threshold flags are overrides; they require --allow-override and are
range-bounded by the daemon. Unset flags keep the tuned defaults.

Examples:
  # Dry-run a promotion scan
  patternctl scan --type promotion --dry-run

  # Demotion scan with a stricter success-rate cutoff
  patternctl scan --type demotion --max-success-rate 0.3 --allow-override`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanType, "type", "promotion", "scan type: promotion or demotion")
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "evaluate gates without mutating state")
	scanCmd.Flags().BoolVar(&scanOverride, "allow-override", false, "honor threshold override flags")
	scanCmd.Flags().StringVar(&scanRequestID, "request-id", "", "idempotency key (generated when empty)")

	scanCmd.Flags().IntVar(&minInjections, "min-injections", 0, "override minimum injection count")
	scanCmd.Flags().Float64Var(&minSuccessRate, "min-success-rate", 0, "override promotion success-rate floor")
	scanCmd.Flags().Float64Var(&maxSuccessRate, "max-success-rate", 0, "override demotion success-rate ceiling")
	scanCmd.Flags().IntVar(&maxFailureStreak, "max-failure-streak", 0, "override promotion failure-streak ceiling")
	scanCmd.Flags().IntVar(&minFailureStreak, "min-failure-streak", 0, "override demotion failure-streak floor")
	scanCmd.Flags().Float64Var(&cooldownHours, "cooldown-hours", 0, "override demotion cooldown in hours")
}

func runScan(cmd *cobra.Command, _ []string) error {
	req := governance.ScanRequest{
		Type:                   governance.ScanType(scanType),
		DryRun:                 scanDryRun,
		AllowThresholdOverride: scanOverride,
		RequestID:              scanRequestID,
	}

	flags := cmd.Flags()
	if flags.Changed("min-injections") {
		req.MinInjectionCount = &minInjections
	}
	if flags.Changed("min-success-rate") {
		req.MinSuccessRate = &minSuccessRate
	}
	if flags.Changed("max-success-rate") {
		req.MaxSuccessRate = &maxSuccessRate
	}
	if flags.Changed("max-failure-streak") {
		req.MaxFailureStreak = &maxFailureStreak
	}
	if flags.Changed("min-failure-streak") {
		req.MinFailureStreak = &minFailureStreak
	}
	if flags.Changed("cooldown-hours") {
		req.CooldownHours = &cooldownHours
	}

	var reply events.ScanReply
	if err := request(events.SubjectScanRequest, req, &reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("scan failed: %s", reply.Error)
	}

	return printJSON(cmd, reply.Report)
}

var (
	reenableActor     string
	reenableReason    string
	reenableRequestID string
)

// reenableCmd returns a deprecated pattern to candidate
var reenableCmd = &cobra.Command{
	Use:   "reenable <pattern-id>",
	Short: "Return a deprecated pattern to candidate",
	Long: `Return a deprecated pattern to candidate status for fresh evaluation.

This is an admin-only operation; --actor names the operator and is
recorded in the audit trail.

Examples:
  patternctl reenable 3f1c... --actor jdoe --reason "root cause fixed"`,
	Args: cobra.ExactArgs(1),
	RunE: runReenable,
}

func init() {
	reenableCmd.Flags().StringVar(&reenableActor, "actor", "", "operator name (required)")
	reenableCmd.Flags().StringVar(&reenableReason, "reason", "", "reason recorded in the audit trail")
	reenableCmd.Flags().StringVar(&reenableRequestID, "request-id", "", "idempotency key (generated when empty)")
	_ = reenableCmd.MarkFlagRequired("actor")
}

func runReenable(cmd *cobra.Command, args []string) error {
	req := events.TransitionRequest{
		PatternID: args[0],
		Trigger:   pattern.TriggerManualReenable,
		Actor:     pattern.Actor{Name: reenableActor, Type: pattern.ActorAdmin},
		Reason:    reenableReason,
		RequestID: reenableRequestID,
	}

	var reply events.TransitionReply
	if err := request(events.SubjectTransitionRequest, req, &reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("reenable failed: %s", reply.Error)
	}
	if reply.Outcome != nil && reply.Outcome.Rejection != nil {
		return fmt.Errorf("reenable rejected (%s): %s",
			reply.Outcome.Rejection.Code, reply.Outcome.Rejection.Detail)
	}

	return printJSON(cmd, reply.Outcome)
}

// request sends one JSON request/reply round trip to the daemon.
func request(subject string, payload, reply any) error {
	nc, err := nats.Connect(natsURL, nats.Name("patternctl"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	defer nc.Close()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := nc.Request(subject, data, requestTimeout)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", subject, err)
	}

	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	cmd.Println(string(out))
	return nil
}
