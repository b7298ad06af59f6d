package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	adminAddr   string
	resetReason string
)

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect or control the circuit breaker of a running instance",
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Manually reset a halted circuit breaker",
	Run:   runBreakerReset,
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the detailed health report",
	Run:   runBreakerStatus,
}

func init() {
	breakerCmd.PersistentFlags().StringVar(&adminAddr, "addr", "http://localhost:8080", "admin server address")
	breakerResetCmd.Flags().StringVar(&resetReason, "reason", "manual reset via cli", "reason recorded in the audit trail")
	breakerCmd.AddCommand(breakerResetCmd, breakerStatusCmd)
	rootCmd.AddCommand(breakerCmd)
}

var adminClient = &http.Client{Timeout: 10 * time.Second}

func runBreakerReset(cmd *cobra.Command, args []string) {
	endpoint := strings.TrimRight(adminAddr, "/") + "/breaker/reset?reason=" + url.QueryEscape(resetReason)
	resp, err := adminClient.Post(endpoint, "application/json", nil)
	printResponse(resp, err)
}

func runBreakerStatus(cmd *cobra.Command, args []string) {
	resp, err := adminClient.Get(strings.TrimRight(adminAddr, "/") + "/health/detailed")
	printResponse(resp, err)
}

func printResponse(resp *http.Response, err error) {
	if err != nil {
		slog.Error("Admin request failed", "addr", adminAddr, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(body)))
	if resp.StatusCode >= http.StatusBadRequest {
		slog.Error("Admin request rejected", "status", resp.Status)
		os.Exit(1)
	}
}
