// Package stub implements a local development gateway that speaks the same
// frame protocol as the production agent: chunked streaming replies,
// keepalive pongs, and file-manifest snapshots. No agent reasoning lives
// here; replies are canned echoes.
package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/procurelabs/spachat/internal/middleware"
	"github.com/procurelabs/spachat/internal/protocol"
)

// Server is the stub gateway.
type Server struct {
	filesDir   string
	chunkDelay time.Duration
	logger     *slog.Logger
}

// New creates a stub gateway serving manifest entries from filesDir.
func New(filesDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		filesDir:   filesDir,
		chunkDelay: 30 * time.Millisecond,
		logger:     logger,
	}
}

// Router builds the HTTP surface: the WebSocket endpoint plus plain file
// downloads backing the manifest URLs.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	r.Get("/ws/agent", s.handleWS)
	r.Get("/files/{name}", s.handleDownload)
	return r
}

// command is the superset of outbound frames a client may send.
type command struct {
	Action      string `json:"action"`
	Message     string `json:"message"`
	UserID      string `json:"userId"`
	BearerToken string `json:"bearerToken"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "session ended")
	}()

	ctx := r.Context()
	host := r.Host

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				s.logger.Debug("stub read error", "error", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.writeJSON(ctx, ws, map[string]string{"error": "malformed command"})
			continue
		}

		switch {
		case cmd.Action == "ping":
			s.writeJSON(ctx, ws, map[string]string{"action": "pong"})
		case cmd.Action == "list_files":
			s.writeJSON(ctx, ws, s.filesList(host))
		case cmd.Message != "":
			s.streamReply(ctx, ws, cmd.Message, host)
		default:
			s.writeJSON(ctx, ws, map[string]string{"error": "unsupported command"})
		}
	}
}

// streamReply emits a reply the way the production agent does: zero or more
// chunk frames followed by a complete frame carrying the authoritative full
// text. Questions mentioning a chart also exercise the visualization
// envelope and a tool_start phase notice.
func (s *Server) streamReply(ctx context.Context, ws *websocket.Conn, message, host string) {
	wantsChart := strings.Contains(strings.ToLower(message), "chart") ||
		strings.Contains(strings.ToLower(message), "graph") ||
		strings.Contains(strings.ToLower(message), "plot")

	var full string
	if wantsChart {
		s.writeJSON(ctx, ws, map[string]string{"type": "tool_start"})
		full = fmt.Sprintf(
			"Here is the requested chart for %q.\n"+
				"[CODE_START]\nimport matplotlib.pyplot as plt\nplt.plot(range(10))\nplt.savefig('chart.png')\n[CODE_END]\n"+
				"[EXEC_START]\nCode executed successfully\n[EXEC_END]\n"+
				"[IMAGE]http://%s/files/chart.png[/IMAGE]",
			message, host)
	} else {
		full = fmt.Sprintf("You asked: %q. This is a canned reply from the stub gateway; "+
			"point SPACHAT_GATEWAY_URL at a real deployment for live answers.", message)
	}

	for _, chunk := range splitChunks(full, 24) {
		s.writeJSON(ctx, ws, map[string]string{"type": "chunk", "chunk": chunk})
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.chunkDelay):
		}
	}

	s.writeJSON(ctx, ws, map[string]string{"type": "complete", "response": full})
}

func (s *Server) filesList(host string) map[string]any {
	var files []protocol.FileInfo
	entries, err := os.ReadDir(s.filesDir)
	if err != nil {
		s.logger.Warn("stub files dir unreadable", "dir", s.filesDir, "error", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, protocol.FileInfo{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
			URL:      fmt.Sprintf("http://%s/files/%s", host, e.Name()),
		})
	}
	return map[string]any{"action": "files_list", "files": files}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.filesDir, name))
}

func (s *Server) writeJSON(ctx context.Context, ws *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("stub encode failed", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("stub write failed", "error", err)
	}
}

// splitChunks cuts text into fragments of roughly n runes so chunk
// boundaries land in arbitrary places, the way the real stream does.
func splitChunks(text string, n int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > 0 {
		k := n
		if k > len(runes) {
			k = len(runes)
		}
		out = append(out, string(runes[:k]))
		runes = runes[k:]
	}
	return out
}
