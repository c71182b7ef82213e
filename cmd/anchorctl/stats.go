package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&serverURL, "server", "s", defaultServer(), "Anchor AI core server URL")
}

func defaultServer() string {
	if s := os.Getenv("ANCHOR_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8090"
}

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-model execution statistics from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetchJSON("/v1/performance")
		},
	}
	addServerFlag(cmd)
	return cmd
}

func newPatternsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List stored patterns from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetchJSON("/v1/patterns")
		},
	}
	addServerFlag(cmd)
	return cmd
}

// fetchJSON streams a server endpoint's JSON to stdout.
func fetchJSON(path string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, string(body))
	}

	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}
