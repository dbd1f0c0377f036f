package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
)

const (
	DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	handshakeTimeout = 45 * time.Second
	setupTimeout     = 10 * time.Second
	writeTimeout     = 10 * time.Second
	maxMessageSize   = 16 << 20
)

// LiveDialer opens BidiGenerateContent sessions over a websocket.
type LiveDialer struct {
	url          string
	dialer       *websocket.Dialer
	setupTimeout time.Duration
	logger       *slog.Logger
}

func NewLiveDialer(url string, logger *slog.Logger) *LiveDialer {
	if url == "" {
		url = DefaultLiveURL
	}
	return &LiveDialer{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		setupTimeout: setupTimeout,
		logger:       logger,
	}
}

// Dial connects, sends the setup message and waits for setupComplete.
// Cancelling ctx aborts an in-flight handshake.
func (d *LiveDialer) Dial(ctx context.Context, credential string, cfg domain.SessionConfig) (application.Transport, error) {
	header := http.Header{}
	header.Set("x-goog-api-key", credential)

	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("dialing live endpoint: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("dialing live endpoint: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := d.setup(conn, cfg); err != nil {
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	d.logger.Debug("live session set up", "model", modelName(cfg.Model))
	return newLiveTransport(conn, d.logger), nil
}

func (d *LiveDialer) setup(conn *websocket.Conn, cfg domain.SessionConfig) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(newSetupMessage(cfg)); err != nil {
		return fmt.Errorf("sending setup: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(d.setupTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("setup rejected (%d): %s", closeErr.Code, closeErr.Text)
			}
			return fmt.Errorf("waiting for setup: %w", err)
		}

		var raw serverMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			d.logger.Warn("ignoring malformed setup frame", "error", err)
			continue
		}
		if raw.SetupComplete != nil {
			_ = conn.SetReadDeadline(time.Time{})
			return nil
		}
	}
}

type liveTransport struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	serveOnce sync.Once
}

func newLiveTransport(conn *websocket.Conn, logger *slog.Logger) *liveTransport {
	return &liveTransport{conn: conn, logger: logger}
}

func (t *liveTransport) Serve(h application.TransportHandler) {
	t.serveOnce.Do(func() {
		go t.readLoop(h)
	})
}

func (t *liveTransport) SendAudio(blob domain.Blob) error {
	return t.write(newAudioMessage(blob))
}

func (t *liveTransport) SendToolResponses(responses []domain.ToolResponse) error {
	return t.write(newToolResponseMessage(responses))
}

func (t *liveTransport) write(msg *clientMessage) error {
	if t.closed.Load() {
		return domain.ErrNotOpen
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := t.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("writing to live endpoint: %w", err)
	}
	return nil
}

// Close sends a normal close frame and drops the connection. The read loop
// exits without notifying the handler.
func (t *liveTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = t.conn.Close()
	})
	return err
}

func (t *liveTransport) readLoop(h application.TransportHandler) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.closed.Load() {
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
					h.HandleClose(closeErr.Text)
					return
				}
				h.HandleError(fmt.Errorf("live endpoint closed the link (%d): %s", closeErr.Code, closeErr.Text))
				return
			}
			h.HandleError(fmt.Errorf("reading from live endpoint: %w", err))
			return
		}

		msg, err := decodeServerMessage(data)
		if err != nil {
			t.logger.Warn("ignoring malformed frame", "error", err)
			continue
		}
		if msg == nil {
			continue
		}
		h.HandleMessage(msg)
	}
}
