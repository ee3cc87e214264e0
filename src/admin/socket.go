package admin

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/bytedance/sonic"
)

// command is the JSON shape of one admin-socket request line, tagged the
// same way the original's serde(tag = "command") enum was: a "command"
// discriminator plus optional fields used by a subset of commands.
type command struct {
	Command    string `json:"command"`
	ConfigPath string `json:"config_path,omitempty"`
	IP         string `json:"ip,omitempty"`
}

// response is the line written back for every command: one line of JSON
// `{"status": "ok"|"error", "data"?: ..., "error"?: ...}` (§6).
type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func ok(data any) response       { return response{Status: "ok", Data: data} }
func errResp(err error) response { return response{Status: "error", Error: err.Error()} }

// Server listens on a Unix-domain socket at permissions 0600 and serves
// the admin line protocol: one command per line, one JSON response per
// line, tolerating either a JSON object or the bare-token shortcut (§6).
type Server struct {
	SocketPath string
	API        *API

	listener net.Listener
}

// ListenAndServe binds the socket, removing any stale file left behind by
// a previous run, and serves connections until the listener is closed
// via Close.
func (s *Server) ListenAndServe() error {
	_ = os.Remove(s.SocketPath)

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("binding admin socket %s: %w", s.SocketPath, err)
	}
	if err := os.Chmod(s.SocketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("setting admin socket permissions: %w", err)
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting new admin connections and removes the socket file.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	_ = os.Remove(s.SocketPath)
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 4096), 1<<20)
	for reader.Scan() {
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}
		resp := s.process(line)
		out, err := sonic.Marshal(resp)
		if err != nil {
			out, _ = sonic.Marshal(errResp(err))
		}
		if _, err := conn.Write(append(out, '\n')); err != nil {
			return
		}
	}
}

// process parses one line as either a JSON command object or a bare
// token/shortcut, then dispatches it (§6).
func (s *Server) process(line string) response {
	cmd, err := parseCommand(line)
	if err != nil {
		return errResp(err)
	}
	return s.dispatch(cmd)
}

func parseCommand(line string) (command, error) {
	if strings.HasPrefix(line, "{") {
		var cmd command
		if err := sonic.UnmarshalString(line, &cmd); err != nil {
			return command{}, fmt.Errorf("invalid json command: %w", err)
		}
		return cmd, nil
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	name := strings.ToLower(fields[0])
	switch name {
	case "status", "health", "metrics", "analysis", "restart_workers", "restart":
		if name == "restart" {
			name = "restart_workers"
		}
		return command{Command: name}, nil
	case "blocked_ips", "blocked":
		return command{Command: "blocked_ips"}, nil
	case "reload_config", "reload":
		cmd := command{Command: "reload_config"}
		if len(fields) > 1 {
			cmd.ConfigPath = fields[1]
		}
		return cmd, nil
	case "block_ip", "block":
		if len(fields) < 2 {
			return command{}, fmt.Errorf("block_ip requires an ip argument")
		}
		return command{Command: "block_ip", IP: fields[1]}, nil
	case "unblock_ip", "unblock":
		if len(fields) < 2 {
			return command{}, fmt.Errorf("unblock_ip requires an ip argument")
		}
		return command{Command: "unblock_ip", IP: fields[1]}, nil
	default:
		return command{}, fmt.Errorf("unknown command: %s", fields[0])
	}
}

func (s *Server) dispatch(cmd command) response {
	switch cmd.Command {
	case "status":
		return ok(s.API.Status())
	case "health":
		return ok(s.API.Health())
	case "metrics":
		return ok(map[string]string{"prometheus": s.API.MetricsText()})
	case "analysis":
		return ok(s.API.Analysis())
	case "blocked_ips":
		ips := s.API.BlockedIPs()
		return ok(map[string]any{"blocked_ips": ips, "count": len(ips)})
	case "reload_config":
		if err := s.API.ReloadConfig(cmd.ConfigPath); err != nil {
			return errResp(err)
		}
		return ok(map[string]string{"message": "configuration reloaded"})
	case "restart_workers":
		if err := s.API.RestartWorkers(); err != nil {
			return errResp(err)
		}
		return ok(map[string]string{"message": "worker restart requested"})
	case "block_ip":
		if err := s.API.BlockIP(cmd.IP); err != nil {
			return errResp(err)
		}
		return ok(map[string]string{"message": fmt.Sprintf("ip %s blocked", cmd.IP)})
	case "unblock_ip":
		if err := s.API.UnblockIP(cmd.IP); err != nil {
			return errResp(err)
		}
		return ok(map[string]string{"message": fmt.Sprintf("ip %s unblocked", cmd.IP)})
	default:
		return errResp(fmt.Errorf("unknown command: %s", cmd.Command))
	}
}
