package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/procurelabs/spachat/internal/domain"
	"github.com/procurelabs/spachat/internal/extract"
	"github.com/procurelabs/spachat/internal/identity"
	"github.com/procurelabs/spachat/internal/protocol"
)

// ErrBusy is returned when a send is attempted while a request is already
// in flight. The send is rejected client-side without contacting the
// gateway.
var ErrBusy = errors.New("a request is already in flight")

// phase is the explicit pending-request state. Transitions are driven by
// sends and inbound events; every transition back to phaseIdle goes through
// the single endTurnLocked sequence so both timers are always released.
type phase int

const (
	phaseIdle phase = iota
	phaseAwaiting
	phaseStreaming
)

// statusPhrases rotate while a request is outstanding. Perceived
// responsiveness only, no protocol meaning.
var statusPhrases = []string{
	"Thinking...",
	"Analyzing supplier data...",
	"Querying data sources...",
	"Preparing the answer...",
}

const statusExecuting = "Executing generated code..."

// Update is a notification that client state changed. Consumers re-read the
// relevant snapshot accessor; updates are coalescing signals, not deltas.
type Update interface {
	update()
}

// ConversationUpdated signals the message list changed.
type ConversationUpdated struct{}

// StatusUpdated carries the current rotating status text; empty when no
// request is pending.
type StatusUpdated struct {
	Status string
}

// ManifestUpdated carries a fresh file-manifest snapshot.
type ManifestUpdated struct {
	Files []domain.FileEntry
}

// ConnectionLost signals the connection ended. Terminal: the client does
// not reconnect on its own.
type ConnectionLost struct {
	Err error
}

func (ConversationUpdated) update() {}
func (StatusUpdated) update()       {}
func (ManifestUpdated) update()     {}
func (ConnectionLost) update()      {}

// Config holds client configuration.
type Config struct {
	GatewayURL        string
	UserID            string
	KeepaliveInterval time.Duration
	StatusInterval    time.Duration
	DialTimeout       time.Duration
	Logger            *slog.Logger
}

// Client owns a single connection to the agent gateway and multiplexes the
// chat, keepalive, and file-listing exchanges over it.
type Client struct {
	cfg    Config
	tokens identity.TokenProvider
	logger *slog.Logger

	mu           sync.Mutex
	conn         *Conn
	phase        phase
	asm          *assembler
	files        []domain.FileEntry
	filesLoading bool
	status       string
	statusIdx    int
	statusPinned bool
	closed       bool

	keepalive repeater
	statusRot repeater

	cancelRead context.CancelFunc
	updates    chan Update
}

// New creates a client. Connect must be called before sending.
func New(cfg Config, tokens identity.TokenProvider) *Client {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 30 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 3 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		tokens:  tokens,
		logger:  logger,
		asm:     newAssembler(),
		updates: make(chan Update, 64),
	}
}

// Connect obtains a fresh bearer token, dials the gateway, and starts the
// inbound read loop. Connection loss afterwards is terminal; the caller
// must call Connect again on a new client.
func (c *Client) Connect(ctx context.Context) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain token: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, err := Dial(dialCtx, c.cfg.GatewayURL, token)
	if err != nil {
		return err
	}

	readCtx, cancelRead := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.cancelRead = cancelRead
	c.mu.Unlock()

	c.logger.Info("connected to agent gateway", "url", c.cfg.GatewayURL, "user_id", c.cfg.UserID)
	go c.readLoop(readCtx, conn)
	return nil
}

// Updates returns the notification channel. It is never closed; consumers
// should also watch for ConnectionLost.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Messages returns a snapshot of the conversation.
func (c *Client) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asm.Messages()
}

// Files returns the last manifest snapshot received.
func (c *Client) Files() []domain.FileEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.FileEntry(nil), c.files...)
}

// Status returns the current rotating status text, empty when idle.
func (c *Client) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Busy reports whether a request is outstanding: an explicit pending phase
// or a reply still being streamed.
func (c *Client) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busyLocked()
}

func (c *Client) busyLocked() bool {
	return c.phase != phaseIdle || c.asm.InProgress()
}

// Send submits a user turn. The pending phase is claimed before the token
// refresh so a second Send racing the network round trip is rejected, the
// user message is appended, and both the keepalive and the status rotation
// start. Rejected with ErrBusy while a request is pending and with
// ErrNotConnected against a connection that is not open.
func (c *Client) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.conn == nil || c.conn.State() != StateOpen {
		c.asm.Append(systemMessage("Not connected to the agent gateway. Restart the session to reconnect."))
		c.mu.Unlock()
		c.emit(ConversationUpdated{})
		return ErrNotConnected
	}
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	// Claim the turn before releasing the lock. The token fetch below can
	// take seconds; a concurrent Send must see the pending phase, not the
	// pre-claim idle state.
	c.phase = phaseAwaiting
	conn := c.conn
	c.mu.Unlock()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.mu.Lock()
		c.endTurnLocked()
		c.asm.Append(systemMessage("Could not refresh credentials: " + err.Error()))
		c.mu.Unlock()
		c.emit(ConversationUpdated{})
		c.emit(StatusUpdated{})
		return fmt.Errorf("refresh token: %w", err)
	}

	c.mu.Lock()
	c.asm.Append(domain.Message{
		Sender:    domain.SenderUser,
		Text:      text,
		CreatedAt: time.Now(),
	})
	c.statusIdx = 0
	c.statusPinned = false
	c.status = statusPhrases[0]
	c.mu.Unlock()
	c.emit(ConversationUpdated{})
	c.emit(StatusUpdated{Status: statusPhrases[0]})

	cmd := protocol.ChatCommand{Message: text, UserID: c.cfg.UserID, BearerToken: token}
	if err := conn.WriteJSON(ctx, cmd); err != nil {
		c.mu.Lock()
		c.endTurnLocked()
		c.asm.Append(systemMessage("Failed to send message: " + err.Error()))
		c.mu.Unlock()
		c.emit(ConversationUpdated{})
		c.emit(StatusUpdated{})
		return err
	}

	// The reply may have been fully processed between the write and here,
	// in which case the turn is already over and starting timers would leak
	// them into the idle phase.
	c.mu.Lock()
	if c.phase != phaseIdle {
		c.keepalive.Start(c.cfg.KeepaliveInterval, c.sendPing)
		c.statusRot.Start(c.cfg.StatusInterval, c.rotateStatus)
	}
	c.mu.Unlock()
	return nil
}

// RequestListing asks for a fresh file-manifest snapshot. The response
// replaces the manifest wholesale and clears the loading flag.
func (c *Client) RequestListing(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil || c.conn.State() != StateOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.filesLoading = true
	c.mu.Unlock()

	if err := conn.WriteJSON(ctx, protocol.NewListFiles()); err != nil {
		c.mu.Lock()
		c.filesLoading = false
		c.mu.Unlock()
		return err
	}
	return nil
}

// FilesLoading reports whether a manifest request is outstanding.
func (c *Client) FilesLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filesLoading
}

// Close tears down the connection and stops all timers. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.endTurnLocked()
	conn := c.conn
	cancelRead := c.cancelRead
	c.mu.Unlock()

	if cancelRead != nil {
		cancelRead()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame classifies one inbound frame and dispatches it. Frames that
// fail to parse are dropped; they must never crash the client.
func (c *Client) handleFrame(data []byte) {
	ev, err := protocol.DecodeEvent(data)
	if err != nil {
		c.logger.Debug("dropping inbound frame", "error", err)
		return
	}

	switch ev := ev.(type) {
	case protocol.PongEvent:
		// Keepalive acknowledgement, nothing to do.

	case protocol.FilesListEvent:
		c.handleFilesList(ev)

	case protocol.ChunkEvent:
		c.mu.Lock()
		c.asm.AppendChunk(ev.Chunk)
		if c.phase == phaseAwaiting {
			c.phase = phaseStreaming
		}
		c.mu.Unlock()
		c.emit(ConversationUpdated{})

	case protocol.ToolStartEvent:
		c.mu.Lock()
		c.statusPinned = true
		c.status = statusExecuting
		c.mu.Unlock()
		c.emit(StatusUpdated{Status: statusExecuting})

	case protocol.CompleteEvent:
		c.mu.Lock()
		c.endTurnLocked()
		c.asm.Finalize(ev.Response)
		c.mu.Unlock()
		c.emit(ConversationUpdated{})
		c.emit(StatusUpdated{})

	case protocol.ErrorEvent:
		// Error bodies pass through the same decode pipeline as replies so
		// entity-encoded text renders cleanly.
		c.mu.Lock()
		c.endTurnLocked()
		c.asm.FinalizeDraft()
		c.asm.Append(systemMessage(extract.Decode(ev.Message).CleanText))
		c.mu.Unlock()
		c.emit(ConversationUpdated{})
		c.emit(StatusUpdated{})

	case protocol.LegacyResponseEvent:
		// One-shot pre-streaming reply: same decode pipeline as the
		// completion path, appended as a new finalized message.
		c.mu.Lock()
		c.endTurnLocked()
		c.asm.Finalize(ev.Response)
		c.mu.Unlock()
		c.emit(ConversationUpdated{})
		c.emit(StatusUpdated{})
	}
}

func (c *Client) handleFilesList(ev protocol.FilesListEvent) {
	files := make([]domain.FileEntry, 0, len(ev.Files))
	for _, f := range ev.Files {
		files = append(files, domain.FileEntry{
			Name:     f.Name,
			Size:     f.Size,
			Modified: f.Modified,
			URL:      f.URL,
		})
	}

	c.mu.Lock()
	c.files = files
	c.filesLoading = false
	c.mu.Unlock()
	c.emit(ManifestUpdated{Files: files})
}

// handleDisconnect runs when the read loop ends. A deliberate Close is
// silent; an unexpected drop mid-turn closes the draft from its accumulated
// text and surfaces a system error so the UI never sticks in "processing".
func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	pending := c.busyLocked()
	c.endTurnLocked()
	if pending {
		c.asm.FinalizeDraft()
		c.asm.Append(systemMessage("Connection to the agent gateway was lost."))
	}
	c.mu.Unlock()

	c.logger.Warn("gateway connection lost", "error", err, "user_id", c.cfg.UserID)
	if pending {
		c.emit(ConversationUpdated{})
		c.emit(StatusUpdated{})
	}
	c.emit(ConnectionLost{Err: err})
}

// endTurnLocked is the single convergence point for every exit from a
// pending turn: stop both timers, clear the phase, reset the status.
// Idempotent. Callers hold c.mu.
func (c *Client) endTurnLocked() {
	c.keepalive.Stop()
	c.statusRot.Stop()
	c.phase = phaseIdle
	c.statusPinned = false
	c.status = ""
}

func (c *Client) sendPing() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.WriteJSON(ctx, protocol.NewPing(c.cfg.UserID)); err != nil {
		c.logger.Warn("keepalive ping failed", "error", err)
	}
}

func (c *Client) rotateStatus() {
	c.mu.Lock()
	if c.statusPinned || c.phase == phaseIdle {
		c.mu.Unlock()
		return
	}
	c.statusIdx = (c.statusIdx + 1) % len(statusPhrases)
	status := statusPhrases[c.statusIdx]
	c.status = status
	c.mu.Unlock()
	c.emit(StatusUpdated{Status: status})
}

// emit delivers an update without ever blocking the read loop. Updates are
// coalescing signals, so dropping one while the buffer is full loses
// nothing a snapshot re-read will not recover.
func (c *Client) emit(u Update) {
	select {
	case c.updates <- u:
	default:
	}
}

func systemMessage(text string) domain.Message {
	return domain.Message{
		Sender:    domain.SenderSystem,
		Text:      text,
		CreatedAt: time.Now(),
	}
}
