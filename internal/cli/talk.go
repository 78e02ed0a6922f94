package cli

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voxdeck-ai/voxdeck/pkg/client"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/protocol"
)

var (
	talkMode     string
	talkModel    string
	talkVoice    string
	talkAddendum string
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Hold an interactive session with the gateway",
	Long: `Open a session and exchange turns from the terminal. Type a line to
send it as a caller turn; /end closes the session.

Audio output is reported, not played: the terminal shows chunk sizes.
Browser-delegated function calls are printed with their correlation id
so a result can be supplied with /result <correlation-id> <json>.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wsURL, err := sessionWSURL()
		if err != nil {
			return err
		}

		sup := client.New(client.Options{
			URL:                  wsURL,
			Mode:                 talkMode,
			Model:                talkModel,
			Voice:                talkVoice,
			SystemPromptAddendum: talkAddendum,
			Logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
		})

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		frames := make(chan any, 64)
		runErr := make(chan error, 1)
		go func() { runErr <- sup.Run(ctx, frames) }()

		go printFrames(frames)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/end":
				_ = sup.End()
			case strings.HasPrefix(line, "/result "):
				if err := sendBrowserResult(sup, strings.TrimPrefix(line, "/result ")); err != nil {
					fmt.Println(failStyle.Render("error:"), err)
				}
			default:
				if err := sup.SendText(line); err != nil {
					fmt.Println(failStyle.Render("error:"), err)
				}
			}

			select {
			case err := <-runErr:
				return err
			default:
			}
		}

		cancel()
		return <-runErr
	},
}

// sendBrowserResult parses "/result <correlation-id> <json>" input.
func sendBrowserResult(sup *client.Supervisor, rest string) error {
	parts := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	if len(parts) != 2 {
		return fmt.Errorf("usage: /result <correlation-id> <json>")
	}
	var result any
	if err := json.Unmarshal([]byte(parts[1]), &result); err != nil {
		return fmt.Errorf("result must be JSON: %w", err)
	}
	return sup.SendBrowserResult("", parts[0], result)
}

func printFrames(frames <-chan any) {
	for frame := range frames {
		switch f := frame.(type) {
		case protocol.ServerSetupComplete:
			resumed := ""
			if f.Resumed {
				resumed = " (resumed)"
			}
			fmt.Printf("%s %s%s\n", dimStyle.Render("session"), f.SessionID, resumed)
		case protocol.ServerTranscript:
			fmt.Printf("%s %s\n", roleStyle.Render(f.Role+":"), f.Text)
		case protocol.ServerText:
			fmt.Printf("%s %s\n", roleStyle.Render("assistant:"), f.Text)
		case protocol.ServerAudio:
			if pcm, err := base64.StdEncoding.DecodeString(f.Data); err == nil {
				fmt.Println(dimStyle.Render(fmt.Sprintf("[audio %d bytes]", len(pcm))))
			}
		case protocol.ServerTurnComplete:
			fmt.Println(dimStyle.Render(fmt.Sprintf("-- turn %d --", f.Turn)))
		case protocol.ServerFunctionCall:
			fmt.Printf("%s %s class=%s", titleStyle.Render("call"), f.Name, f.Class)
			if f.CorrelationID != "" {
				fmt.Printf(" correlation=%s", f.CorrelationID)
			}
			fmt.Println()
		case protocol.ServerFunctionResult:
			fmt.Printf("%s %s %s\n", titleStyle.Render("result"), f.Name, string(f.Result))
		case protocol.ServerAsyncTaskStarted:
			fmt.Printf("%s %s task=%s\n", dimStyle.Render("started"), f.Function, f.TaskID)
		case protocol.ServerAsyncTaskComplete:
			fmt.Printf("%s %s task=%s %s\n", okStyle.Render("done"), f.Function, f.TaskID, string(f.Result))
		case protocol.ServerDraining:
			fmt.Println(dimStyle.Render("server draining; will reconnect: " + f.Message))
		case protocol.ServerError:
			fmt.Println(failStyle.Render("server error:"), f.Message)
		}
	}
}

func init() {
	talkCmd.Flags().StringVar(&talkMode, "mode", protocol.ModeTurnBased, "session mode: native or turn-based")
	talkCmd.Flags().StringVar(&talkModel, "model", "", "upstream model name (server default when empty)")
	talkCmd.Flags().StringVar(&talkVoice, "voice", "", "voice name for native audio output")
	talkCmd.Flags().StringVar(&talkAddendum, "addendum", "", "extra system prompt text for this session")
	rootCmd.AddCommand(talkCmd)
}
