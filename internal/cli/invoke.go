package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var invokeArgsJSON string

var invokeCmd = &cobra.Command{
	Use:   "invoke <capability>",
	Short: "Run one capability synchronously",
	Long: `Run a single capability over the REST surface and print its result.
Browser-delegated capabilities need a live session and cannot run here.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var capArgs map[string]any
		if invokeArgsJSON != "" {
			if err := json.Unmarshal([]byte(invokeArgsJSON), &capArgs); err != nil {
				return fmt.Errorf("--args must be a JSON object: %w", err)
			}
		}

		var resp struct {
			Name   string `json:"name"`
			Result any    `json:"result"`
		}
		body := map[string]any{"name": args[0], "args": capArgs}
		if err := newRESTClient().do("POST", "/v1/invoke", body, &resp); err != nil {
			return err
		}

		pretty, err := json.MarshalIndent(resp.Result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render(resp.Name))
		fmt.Println(string(pretty))
		return nil
	},
}

func init() {
	invokeCmd.Flags().StringVar(&invokeArgsJSON, "args", "", "capability arguments as a JSON object")
	rootCmd.AddCommand(invokeCmd)
}
