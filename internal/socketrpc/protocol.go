package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes a read-only view of the stream registry over
// a Unix domain socket, one request and one response per line.
//
//   Method         Params                       Result
//   ───────────    ─────────────────────────    ──────────────
//   ListSources    (none)                       []SourceInfo
//   SourceStatus   {ID: string}                 SourceStatus
//   RecentLines    {ID: string, Count: int}     []string
//
// RecentLines treats a missing or zero Count as 100.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (unknown or inactive source)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// SourceInfo describes a configured source.
type SourceInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Command     []string `json:"command"`
	WorkingDir  string   `json:"working_dir"`
}

// SourceStatus is the live state of one source.
type SourceStatus struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	Subscribers   int    `json:"subscribers"`
	Running       bool   `json:"running"`
	BufferedLines int    `json:"buffered_lines"`
	MaxLines      int    `json:"max_lines,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/tailexplorer/tailexplorer.sock, falling back to
// ~/.local/state/tailexplorer/tailexplorer.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tailexplorer", "tailexplorer.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/tailexplorer.sock"
	}
	return filepath.Join(home, ".local", "state", "tailexplorer", "tailexplorer.sock")
}
