package main

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"
)

// newTuiCmd builds a live status dashboard over the admin Unix-domain
// socket, grounded on the teacher's testers/goncurrently tview dashboard
// (tview.Flex of tview.TextView panels, one app.Run goroutine, periodic
// QueueUpdateDraw updates).
func newTuiCmd() *cobra.Command {
	var (
		socketPath string
		interval   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Live status dashboard for a running phpedge instance's admin socket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTui(socketPath, interval)
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "/run/phpedge/admin.sock", "path to the admin Unix-domain socket")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

func runTui(socketPath string, interval time.Duration) error {
	app := tview.NewApplication()

	statusView := newPanel("status")
	healthView := newPanel("health")
	analysisView := newPanel("analysis")

	layout := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(statusView, 0, 1, true).
		AddItem(healthView, 0, 1, false).
		AddItem(analysisView, 0, 1, false)

	app.SetRoot(layout, true).SetFocus(statusView)
	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEsc || ev.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return ev
	})

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		poll := func() {
			renderCommand(app, statusView, socketPath, "status")
			renderCommand(app, healthView, socketPath, "health")
			renderCommand(app, analysisView, socketPath, "analysis")
		}
		poll()
		for {
			select {
			case <-ticker.C:
				poll()
			case <-stop:
				return
			}
		}
	}()

	err := app.Run()
	close(stop)
	return err
}

func newPanel(title string) *tview.TextView {
	view := tview.NewTextView()
	view.SetDynamicColors(true)
	view.SetBorder(true)
	view.SetTitle(title)
	view.SetScrollable(true)
	view.SetWrap(true)
	return view
}

func renderCommand(app *tview.Application, view *tview.TextView, socketPath, command string) {
	text, err := fetchAdminText(socketPath, command)
	app.QueueUpdateDraw(func() {
		view.Clear()
		if err != nil {
			fmt.Fprintf(view, "[red]%s[-]\n%s", command, err)
			return
		}
		fmt.Fprint(view, text)
	})
}

// fetchAdminText sends one admin command over the socket and renders the
// JSON response as tview-colored "key: value" lines, followed by the "data"
// payload as compact JSON; a line that is not JSON is returned unchanged.
func fetchAdminText(socketPath, command string) (string, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return "", fmt.Errorf("connecting to admin socket: %w", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return "", fmt.Errorf("writing command: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	line = strings.TrimRight(line, "\n")

	var parsed map[string]any
	if err := sonic.UnmarshalString(line, &parsed); err != nil {
		return line, nil
	}

	var b strings.Builder
	writeField := func(label string, v any) {
		fmt.Fprintf(&b, "[yellow]%s:[-] %v\n", label, v)
	}
	for k, v := range parsed {
		if k == "data" {
			continue
		}
		writeField(k, v)
	}
	if data, ok := parsed["data"]; ok {
		raw, _ := sonic.MarshalString(data)
		fmt.Fprintf(&b, "\n%s\n", raw)
	}

	if status, _ := parsed["status"].(string); status == "error" {
		return color.New(color.FgRed).Sprint(b.String()), nil
	}
	return b.String(), nil
}
