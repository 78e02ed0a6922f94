package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/voxdeck-ai/voxdeck/pkg/gateway/macro"
)

var macroFile string

var macrosCmd = &cobra.Command{
	Use:   "macros",
	Short: "Manage and run stored macros",
}

var macrosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored macros",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Macros []macro.Macro `json:"macros"`
		}
		if err := newRESTClient().do("GET", "/v1/macros", nil, &resp); err != nil {
			return err
		}
		if len(resp.Macros) == 0 {
			fmt.Println(dimStyle.Render("no macros stored"))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTRIGGER\tSTEPS\tPOLICY")
		for _, m := range resp.Macros {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				m.ID, m.Name, m.TriggerPhrase, len(m.Steps), m.ErrorPolicy)
		}
		return w.Flush()
	},
}

var macrosCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a macro from a JSON definition",
	Long: `Create a macro from a JSON file (or stdin with --file -).

Definition shape:
  {
    "name": "morning check",
    "trigger_phrase": "run my morning check",
    "error_policy": "abort",
    "steps": [
      {"function": "list_databases"},
      {"function": "search_database", "args": {"query": "standup"}, "pipe_from": 0}
    ]
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readDefinition(macroFile)
		if err != nil {
			return err
		}
		var def macro.Macro
		if err := json.Unmarshal(raw, &def); err != nil {
			return fmt.Errorf("parse macro definition: %w", err)
		}

		var created macro.Macro
		if err := newRESTClient().do("POST", "/v1/macros", def, &created); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", okStyle.Render("created"), created.ID)
		return nil
	},
}

var macrosDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a macro by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newRESTClient().do("DELETE", "/v1/macros/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", okStyle.Render("deleted"), args[0])
		return nil
	},
}

var macrosRunCmd = &cobra.Command{
	Use:   "run <id-or-trigger>",
	Short: "Run a macro and print its step trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Results []macro.StepResult `json:"results"`
		}
		if err := newRESTClient().do("POST", "/v1/macros/"+args[0]+"/run", nil, &resp); err != nil {
			return err
		}

		for _, r := range resp.Results {
			marker := okStyle.Render("ok")
			detail := ""
			if !r.Success {
				marker = failStyle.Render("failed")
				detail = " " + r.Error
			}
			name := r.Function
			if name == "" {
				name = dimStyle.Render("(macro)")
			}
			fmt.Printf("step %d  %s  %s%s\n", r.Step, name, marker, detail)
			if r.Success && r.Result != nil {
				pretty, err := json.MarshalIndent(r.Result, "  ", "  ")
				if err == nil {
					fmt.Printf("  %s\n", string(pretty))
				}
			}
		}
		return nil
	},
}

func readDefinition(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("--file is required")
	}
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func init() {
	macrosCreateCmd.Flags().StringVar(&macroFile, "file", "", "macro definition file, or - for stdin")
	macrosCmd.AddCommand(macrosListCmd, macrosCreateCmd, macrosDeleteCmd, macrosRunCmd)
	rootCmd.AddCommand(macrosCmd)
}
