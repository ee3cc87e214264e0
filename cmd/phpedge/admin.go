package main

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/TylerBrock/colorjson"
	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// newAdminCmd builds a client for the admin Unix-domain socket (§6),
// grounded on original_source/src/cli/monitor.rs's one-shot command client:
// connect, write one line, read one line, print, disconnect.
func newAdminCmd() *cobra.Command {
	var socketPath string
	cmd := &cobra.Command{
		Use:   "admin <command> [args...]",
		Short: "Send one command to the admin Unix-domain socket",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCommand(cmd, socketPath, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "/run/phpedge/admin.sock", "path to the admin Unix-domain socket")
	return cmd
}

func runAdminCommand(cmd *cobra.Command, socketPath, line string) error {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to admin socket: %w", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("writing command: %w", err)
	}

	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	printAdminResponse(cmd, strings.TrimRight(resp, "\n"))
	return nil
}

func printAdminResponse(cmd *cobra.Command, line string) {
	var parsed map[string]any
	if err := sonic.UnmarshalString(line, &parsed); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), line)
		return
	}

	f := colorjson.NewFormatter()
	f.Indent = 2
	colored, err := f.Marshal(parsed)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), line)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(colored))

	if status, _ := parsed["status"].(string); status == "error" {
		color.New(color.FgRed).Fprintln(cmd.OutOrStdout(), "command failed")
	}
}
