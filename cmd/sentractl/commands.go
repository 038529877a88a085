package main

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/go-core/log"

	sc "github.com/linnemanlabs/sentra/internal/cfg"
	"github.com/linnemanlabs/sentra/internal/knownsource"
	"github.com/linnemanlabs/sentra/internal/risk"
	"github.com/linnemanlabs/sentra/internal/triage"
)

func knownCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "known",
		Short: "List trusted source IPs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			set, err := b.known.Load(cmd.Context())
			if err != nil {
				return err
			}
			ips := set.Sorted()
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(ips)
			}
			for _, ip := range ips {
				fmt.Fprintln(out, ip)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as a JSON array")
	return cmd
}

func trustCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "trust <ip>",
		Short: "Add an IP to the trusted sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip := strings.TrimSpace(args[0])
			if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
				return fmt.Errorf("%q is not an IPv4 address", ip)
			}

			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			reg := knownsource.Open(cmd.Context(), b.known, log.Nop())
			added, err := reg.Add(cmd.Context(), ip)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !added {
				fmt.Fprintf(out, "%s is already trusted\n", ip)
				return nil
			}
			if _, err := b.events.Append(cmd.Context(), fmt.Sprintf("User whitelisted IP: %s", ip)); err != nil {
				return fmt.Errorf("trusted %s but could not record it: %w", ip, err)
			}
			fmt.Fprintf(out, "trusted %s\n", ip)
			return nil
		},
	}
}

func logCmd(opts *options) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tail < 0 {
				return fmt.Errorf("--tail must be >= 0")
			}
			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			entries, err := b.events.Entries(cmd.Context())
			if err != nil {
				return err
			}
			if tail > 0 && len(entries) > tail {
				entries = entries[len(entries)-tail:]
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No alerts logged yet.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintln(out, e.String())
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 0, "only print the last N entries (0 = all)")
	return cmd
}

func scoreCmd(opts *options) *cobra.Command {
	var (
		threshold int
		regions   string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a notification body read from stdin without changing any state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}

			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			known, err := b.known.Load(cmd.Context())
			if err != nil {
				return err
			}

			engine := triage.NewEngine(risk.New(risk.DefaultWeights(), (&sc.Config{HighRiskRegions: regions}).Regions()), threshold, triage.Hooks{})
			ev, ok := engine.Evaluate(string(body), known)
			if !ok {
				return fmt.Errorf("no IPv4 address found in notification")
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(ev)
			}
			n := ev.Notification
			fmt.Fprintf(out, "IP:       %s\n", n.IP)
			fmt.Fprintf(out, "Location: %s\n", n.Location)
			fmt.Fprintf(out, "Time:     %s\n", n.Time)
			fmt.Fprintf(out, "Score:    %d (threshold %d)\n", ev.Score(), engine.Threshold())
			for _, f := range ev.Assessment.Factors {
				fmt.Fprintf(out, "  +%d %s: %s\n", f.Weight, f.Name, f.Detail)
			}
			if ev.Alert {
				fmt.Fprintln(out, "Verdict:  ALERT")
			} else {
				fmt.Fprintln(out, "Verdict:  below threshold")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&threshold, "alert-threshold", triage.DefaultThreshold, "score at or above which a sign-in alerts")
	cmd.Flags().StringVar(&regions, "high-risk-regions", strings.Join(risk.DefaultRegions(), ","), "comma-separated high-risk location substrings")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the evaluation as JSON")
	return cmd
}
