package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var adminAddr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "query a running relay's admin /health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(adminAddr)
		},
	}
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "http://localhost:8090", "base URL of the relay's admin surface")
	return cmd
}

func runStatus(adminAddr string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(adminAddr + "/health")
	if err != nil {
		return fmt.Errorf("query %s/health: %w", adminAddr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned status %d: %s", resp.StatusCode, body)
	}

	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
		Rooms   int    `json:"rooms"`
		Calls   int    `json:"calls"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	fmt.Printf("status=%s clients=%d rooms=%d calls=%d\n", health.Status, health.Clients, health.Rooms, health.Calls)
	return nil
}
