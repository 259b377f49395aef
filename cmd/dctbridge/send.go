package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-dct/internal/bridges/dct"
)

const defaultSendTimeout = 3 * time.Second

// errCommandFailed is returned when the device answers FAIL.
var errCommandFailed = errors.New("device rejected command")

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed, color.Bold)
)

func newSendCmd() *cobra.Command {
	var (
		host    string
		port    int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <command...>",
		Short: "Send one raw command to a recorder and print the reply",
		Example: `  dctbridge send --host 192.0.2.10 status
  dctbridge send --host 192.0.2.10 play 1 speed 10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd.Context(), cmd.OutOrStdout(), host, port, timeout, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "recorder address")
	cmd.Flags().IntVar(&port, "port", dct.DefaultPort, "recorder WebSocket port")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultSendTimeout, "how long to wait for a reply")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

// sendCommand dials the recorder, sends text and prints every line it
// receives until one carries OK or FAIL.
func sendCommand(ctx context.Context, out io.Writer, host string, port int, timeout time.Duration, text string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lines := make(chan string, 16)
	failed := make(chan error, 1)
	conn, err := dct.NewWSDialer().Dial(ctx, host, port, dct.Events{
		OnMessage: func(frame string) {
			for _, line := range strings.Split(frame, "\n") {
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
		},
		OnError: func(err error) {
			failed <- err
		},
	})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", dct.DeviceURL(host, port), err)
	}
	defer func() {
		cancel()
		_ = conn.Close()
		<-conn.Done()
	}()

	if err := conn.Send(text); err != nil {
		return fmt.Errorf("sending %q: %w", text, err)
	}

	for {
		select {
		case line := <-lines:
			switch replyKind(line) {
			case "OK":
				okColor.Fprintln(out, line)
				return nil
			case "FAIL":
				failColor.Fprintln(out, line)
				return fmt.Errorf("%w: %s", errCommandFailed, line)
			default:
				fmt.Fprintln(out, line)
			}
		case err := <-failed:
			return fmt.Errorf("connection lost: %w", err)
		case <-ctx.Done():
			return fmt.Errorf("no reply to %q within %s", text, timeout)
		}
	}
}

// replyKind returns "OK" or "FAIL" when the line carries that token.
func replyKind(line string) string {
	fields := strings.Fields(line)
	switch {
	case slices.Contains(fields, "FAIL"):
		return "FAIL"
	case slices.Contains(fields, "OK"):
		return "OK"
	}
	return ""
}
