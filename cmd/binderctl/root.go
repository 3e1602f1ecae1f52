package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var serverAddr string

var rootCmd = &cobra.Command{
	Use:   "binderctl",
	Short: "Inspect services hosted by a running binderd",
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "Service registry inspection",
}

var servicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exported service names",
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload struct {
			Services []string `json:"services"`
		}
		if err := getJSON("/v1/services", &payload); err != nil {
			return err
		}
		sort.Strings(payload.Services)
		for _, name := range payload.Services {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var servicesDumpCmd = &cobra.Command{
	Use:   "dump NAME",
	Short: "Dump the state of one service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if err := getJSON("/v1/services/"+args[0], &payload); err != nil {
			return err
		}
		out, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://127.0.0.1:8430", "binderd inspection API address")
	servicesCmd.AddCommand(servicesListCmd, servicesDumpCmd)
	rootCmd.AddCommand(servicesCmd)
}

func getJSON(path string, v any) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
