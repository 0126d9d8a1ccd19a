package stub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func startStub(t *testing.T, filesDir string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(filesDir, logger)
	s.chunkDelay = time.Millisecond
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func dialStub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/agent?token=dev"
	ws, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func roundTrip(t *testing.T, ws *websocket.Conn, cmd any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write command: %v", err)
	}
	return readReply(t, ctx, ws)
}

func readReply(t *testing.T, ctx context.Context, ws *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode reply %q: %v", data, err)
	}
	return m
}

func TestMissingTokenRejected(t *testing.T) {
	t.Parallel()

	srv := startStub(t, t.TempDir())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/agent"
	_, resp, err := websocket.Dial(context.Background(), url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 handshake rejection, got %+v", resp)
	}
}

func TestPingPong(t *testing.T) {
	t.Parallel()

	srv := startStub(t, t.TempDir())
	ws := dialStub(t, srv)

	reply := roundTrip(t, ws, map[string]string{"action": "ping", "userId": "user-1"})
	if reply["action"] != "pong" {
		t.Errorf("reply = %v, want pong", reply)
	}
}

func TestFilesListScansDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "report.csv"), []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	srv := startStub(t, dir)
	ws := dialStub(t, srv)

	reply := roundTrip(t, ws, map[string]string{"action": "list_files"})
	if reply["action"] != "files_list" {
		t.Fatalf("reply = %v, want files_list", reply)
	}
	files, ok := reply["files"].([]any)
	if !ok || len(files) != 1 {
		t.Fatalf("files = %v, want exactly the one regular file", reply["files"])
	}
	entry := files[0].(map[string]any)
	if entry["name"] != "report.csv" {
		t.Errorf("name = %v", entry["name"])
	}
	url, _ := entry["url"].(string)
	if !strings.HasSuffix(url, "/files/report.csv") {
		t.Errorf("url = %q", url)
	}
}

func TestStreamedReplyChunksThenComplete(t *testing.T) {
	t.Parallel()

	srv := startStub(t, t.TempDir())
	ws := dialStub(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd, _ := json.Marshal(map[string]string{"message": "hello there", "userId": "user-1", "bearerToken": "tok"})
	if err := ws.Write(ctx, websocket.MessageText, cmd); err != nil {
		t.Fatalf("write: %v", err)
	}

	var assembled strings.Builder
	for {
		frame := readReply(t, ctx, ws)
		switch frame["type"] {
		case "chunk":
			assembled.WriteString(frame["chunk"].(string))
		case "complete":
			full, _ := frame["response"].(string)
			if assembled.String() != full {
				t.Errorf("concatenated chunks = %q, complete = %q", assembled.String(), full)
			}
			if !strings.Contains(full, `"hello there"`) {
				t.Errorf("reply does not echo the question: %q", full)
			}
			return
		default:
			t.Fatalf("unexpected frame: %v", frame)
		}
	}
}

func TestChartQuestionCarriesVisualization(t *testing.T) {
	t.Parallel()

	srv := startStub(t, t.TempDir())
	ws := dialStub(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd, _ := json.Marshal(map[string]string{"message": "plot a chart of spend", "userId": "user-1", "bearerToken": "tok"})
	if err := ws.Write(ctx, websocket.MessageText, cmd); err != nil {
		t.Fatalf("write: %v", err)
	}

	first := readReply(t, ctx, ws)
	if first["type"] != "tool_start" {
		t.Errorf("first frame = %v, want tool_start", first)
	}
	for {
		frame := readReply(t, ctx, ws)
		if frame["type"] != "complete" {
			continue
		}
		full, _ := frame["response"].(string)
		for _, marker := range []string{"[CODE_START]", "[CODE_END]", "[EXEC_START]", "[EXEC_END]", "[IMAGE]", "[/IMAGE]"} {
			if !strings.Contains(full, marker) {
				t.Errorf("completion missing %s: %q", marker, full)
			}
		}
		return
	}
}

func TestMalformedCommandGetsErrorFrame(t *testing.T) {
	t.Parallel()

	srv := startStub(t, t.TempDir())
	ws := dialStub(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ws.Write(ctx, websocket.MessageText, []byte("{broken")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := readReply(t, ctx, ws)
	if _, ok := reply["error"]; !ok {
		t.Errorf("reply = %v, want an error frame", reply)
	}
}

func TestDownloadRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ok.txt"), []byte("fine"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := startStub(t, dir)

	resp, err := http.Get(srv.URL + "/files/ok.txt")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "fine" {
		t.Errorf("download = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/files/..%2fsecret")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Error("traversal path served a file")
	}
}
