package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphauslabs/pipewatch/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List and invoke monitoring tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := tools.NewRegistry()
		if err := tools.RegisterBuiltins(reg, tools.Deps{}); err != nil {
			return err
		}

		verbose, _ := cmd.Flags().GetBool("schema")
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-22s  %s\n", "TOOL", "DESCRIPTION")
		fmt.Fprintln(out, strings.Repeat("─", 100))
		for _, d := range reg.Definitions() {
			fmt.Fprintf(out, "%-22s  %s\n", d.Name, d.Description)
			if verbose {
				fmt.Fprintf(out, "%s\n\n", d.InputSchema)
			}
		}
		return nil
	},
}

var toolsInvokeCmd = &cobra.Command{
	Use:   "invoke NAME",
	Short: "Invoke a tool with JSON input",
	Long: "pipewatch tools invoke NAME --input '{...}' [--server URL]\n\n" +
		"Runs the tool locally, or on a running pipewatch server when --server\n" +
		"(or PIPEWATCH_SERVER) is set. Use --input @file.json to read input from a file.",
	Args: cobra.ExactArgs(1),
	RunE: runToolsInvoke,
}

func init() {
	toolsListCmd.Flags().Bool("schema", false, "Print each tool's input schema")

	toolsInvokeCmd.Flags().String("input", "{}", "Tool input as JSON, or @path to read it from a file")
	toolsInvokeCmd.Flags().String("server", "", "pipewatch server URL (or PIPEWATCH_SERVER env var)")

	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsInvokeCmd)
}

func runToolsInvoke(cmd *cobra.Command, args []string) error {
	name := args[0]
	input, err := readInput(cmd)
	if err != nil {
		return err
	}

	serverURL, _ := cmd.Flags().GetString("server")
	if serverURL == "" {
		serverURL = os.Getenv("PIPEWATCH_SERVER")
	}

	var resp tools.ToolResponse
	if serverURL != "" {
		client := tools.NewClient(&http.Client{Timeout: 5 * time.Minute}, serverURL)
		resp, err = client.Invoke(cmd.Context(), name, input)
		if err != nil {
			return fmt.Errorf("failed to invoke %s: %w", name, err)
		}
	} else {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err = a.tools.Invoke(cmd.Context(), name, input)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.Success {
		return &exitError{code: 1, msg: fmt.Sprintf("tool %s failed: %s", name, resp.Error)}
	}
	return nil
}

func readInput(cmd *cobra.Command) (json.RawMessage, error) {
	raw, _ := cmd.Flags().GetString("input")
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		raw = string(data)
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("input is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
