package conn

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/epdtry/tfh-mitm/internal/stream"
)

// loginOpcodeMajor is the major opcode of an A-to-B message whose body
// carries a player login name.
const loginOpcodeMajor = 0x0a

// playerNameOffset/playerNameEnd bound the UTF-8 player name field
// within a login message's body.
const (
	playerNameOffset = 12
	playerNameEnd    = 76
)

// LoggingHandler is the default Handler: it appends every message to a
// per-connection .tfhlog file and maintains a human-readable status.txt
// of currently logged-in player names. Both paths are injected at
// construction rather than read from process-wide configuration, per
// the rule that the logs directory and status path are construction
// parameters, not singletons.
type LoggingHandler struct {
	logsDir    string
	statusPath string
	logger     *slog.Logger

	mu      sync.Mutex
	files   map[Tuple]*os.File
	players map[Tuple]string
	opened  map[Tuple]int64
}

// NewLoggingHandler returns a LoggingHandler writing connection logs
// under logsDir and the player roster to statusPath. logsDir is created
// if it does not already exist.
func NewLoggingHandler(logsDir, statusPath string, logger *slog.Logger) (*LoggingHandler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir %s: %w", logsDir, err)
	}
	return &LoggingHandler{
		logsDir:    logsDir,
		statusPath: statusPath,
		logger:     logger.With(slog.String("component", "conn.logginghandler")),
		files:      make(map[Tuple]*os.File),
		players:    make(map[Tuple]string),
		opened:     make(map[Tuple]int64),
	}, nil
}

// OnMessage implements Handler.
func (h *LoggingHandler) OnMessage(ct Tuple, msg stream.Message) {
	h.mu.Lock()
	f, err := h.fileFor(ct)
	h.mu.Unlock()
	if err != nil {
		h.logger.Warn("open tfhlog file failed", slog.String("conn", ct.String()), slog.String("error", err.Error()))
		return
	}

	hdr := msg.HeaderBytes()
	if _, err := f.Write(hdr[:]); err != nil {
		h.logger.Warn("write tfhlog header failed", slog.String("conn", ct.String()), slog.String("error", err.Error()))
		return
	}
	if _, err := f.Write(msg.Body); err != nil {
		h.logger.Warn("write tfhlog body failed", slog.String("conn", ct.String()), slog.String("error", err.Error()))
		return
	}

	if msg.Dir == stream.DirAB && msg.Major == loginOpcodeMajor {
		if name, ok := extractPlayerName(msg.Body); ok {
			h.mu.Lock()
			h.players[ct] = name
			h.mu.Unlock()
			h.writeStatus()
		}
	}
}

// OnTimeout implements Handler.
func (h *LoggingHandler) OnTimeout(ct Tuple) {
	h.mu.Lock()
	if f, ok := h.files[ct]; ok {
		_ = f.Close()
		delete(h.files, ct)
	}
	_, hadPlayer := h.players[ct]
	delete(h.players, ct)
	delete(h.opened, ct)
	h.mu.Unlock()

	if hadPlayer {
		h.writeStatus()
	}
}

// fileFor returns the open *os.File for ct, opening one named after the
// connection's first-seen unix timestamp and 4-tuple on first use. Must
// be called with h.mu held.
func (h *LoggingHandler) fileFor(ct Tuple) (*os.File, error) {
	if f, ok := h.files[ct]; ok {
		return f, nil
	}

	ts := time.Now().Unix()
	name := fmt.Sprintf("%d-%s-%d-%d.tfhlog", ts, ipString(ct.ClientIP), ct.ClientPort, ct.ServerPort)
	f, err := os.OpenFile(filepath.Join(h.logsDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	h.files[ct] = f
	h.opened[ct] = ts
	return f, nil
}

// writeStatus rewrites statusPath with the current player roster, one
// name per line, sorted for a stable diff between writes.
func (h *LoggingHandler) writeStatus() {
	h.mu.Lock()
	names := make([]string, 0, len(h.players))
	for _, name := range h.players {
		names = append(names, name)
	}
	h.mu.Unlock()

	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte('\n')
	}

	tmp := h.statusPath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		h.logger.Warn("write status.txt failed", slog.String("error", err.Error()))
		return
	}
	if err := os.Rename(tmp, h.statusPath); err != nil {
		h.logger.Warn("rename status.txt failed", slog.String("error", err.Error()))
	}
}

// extractPlayerName pulls the UTF-8 player name out of a login message
// body, trimming the trailing NUL padding within the fixed name field.
func extractPlayerName(body []byte) (string, bool) {
	if len(body) < playerNameEnd {
		return "", false
	}
	field := body[playerNameOffset:playerNameEnd]
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	name := strings.TrimSpace(string(field))
	if name == "" {
		return "", false
	}
	return name, true
}
