// Package main is the entry point for the relctl CLI, which offers
// one-shot health probes and report queries against a reliability setup.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/PROM8EUS/reliability/internal/prober"
	"github.com/PROM8EUS/reliability/pkg/config"
)

const defaultAdminAddr = "http://localhost:19790"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relctl",
		Short: "Operational CLI for the source reliability engine",
		Long: `relctl probes configured sources and queries a running reliabilityd.

Examples:
  relctl probe --config reliability.yaml
  relctl report --addr http://localhost:19790 --window 1h`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newProbeCmd(), newReportCmd(), newAlertsCmd())
	return rootCmd
}

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe every configured source health endpoint once",
		RunE:  runProbe,
	}
	cmd.Flags().StringP("config", "c", "reliability.yaml", "Path to configuration file (YAML)")
	cmd.Flags().Duration("timeout", 5*time.Second, "Per-probe timeout")
	return cmd
}

// discardSink satisfies the prober sink for one-shot probes; the CLI
// prints verdicts itself.
type discardSink struct{}

func (discardSink) SetHealthy(string, bool) {}

func runProbe(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	p := prober.New(discardSink{}, prober.Options{Timeout: timeout})

	probed := 0
	for _, gc := range cfg.Groups {
		for _, src := range gc.ToGroup().Sources {
			if src.HealthCheckURL == "" {
				continue
			}
			probed++
			healthy := p.ProbeOnce(cmd.Context(), prober.Target{
				SourceID: src.ID,
				URL:      src.HealthCheckURL,
				Timeout:  timeout,
			})
			status := "healthy"
			if !healthy {
				status = "UNHEALTHY"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-10s %s\n", src.ID, status, src.HealthCheckURL)
		}
	}
	if probed == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sources declare a health_check_url")
	}
	return nil
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch a performance report from a running reliabilityd",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, window, err := adminFlags(cmd)
			if err != nil {
				return err
			}
			return fetchJSON(cmd, fmt.Sprintf("%s/api/v1/report?window=%s", addr, window))
		},
	}
	addAdminFlags(cmd)
	return cmd
}

func newAlertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List active alerts from a running reliabilityd",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return err
			}
			return fetchJSON(cmd, addr+"/api/v1/alerts")
		},
	}
	cmd.Flags().StringP("addr", "a", defaultAdminAddr, "Admin API base URL")
	return cmd
}

func addAdminFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("addr", "a", defaultAdminAddr, "Admin API base URL")
	cmd.Flags().Duration("window", time.Hour, "Report window")
}

func adminFlags(cmd *cobra.Command) (string, time.Duration, error) {
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return "", 0, err
	}
	window, err := cmd.Flags().GetDuration("window")
	if err != nil {
		return "", 0, err
	}
	return addr, window, nil
}

func fetchJSON(cmd *cobra.Command, url string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("admin API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin API returned %d: %s", resp.StatusCode, body)
	}

	out, err := json.MarshalIndent(json.RawMessage(body), "", "  ")
	if err != nil {
		_, _ = cmd.OutOrStdout().Write(body)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
