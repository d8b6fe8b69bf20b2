// Package whisperd talks to the local whisper daemon: model lifecycle and
// whole-file transcription over HTTP, live transcription over a websocket.
package whisperd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"whisperpad/internal/domain"
)

// Config controls the daemon endpoints.
type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

// Client implements ports.RecognitionWorker and ports.EngineLoader.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8765"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
		log:  logger.With("component", "whisperd"),
	}
}

// LoadModel asks the daemon to load the model into memory.
func (c *Client) LoadModel(ctx context.Context, modelID string) error {
	return c.postJSON(ctx, "/models/load", map[string]string{"model": modelID})
}

// UnloadModel releases the daemon's model memory.
func (c *Client) UnloadModel() error {
	return c.postJSON(context.Background(), "/models/unload", map[string]string{})
}

// TranscribeFile submits a whole recording and returns the transcript.
func (c *Client) TranscribeFile(ctx context.Context, path string, language string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("whisperd: open recording: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", err
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/transcribe", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisperd: transcribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisperd: transcribe: %s", readError(resp.Body, resp.StatusCode))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisperd: decode transcript: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// InitializeStreaming opens the live transcription websocket.
func (c *Client) InitializeStreaming(ctx context.Context, modelID string, confirmationCount int, language string) error {
	wsURL, err := c.streamURL(modelID, confirmationCount, language)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("whisperd: connect stream: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()
	return nil
}

type progressFrame struct {
	ConfirmedDelta string  `json:"confirmed_delta"`
	Pending        string  `json:"pending"`
	Decoding       string  `json:"decoding"`
	Throughput     float64 `json:"throughput"`
	Text           string  `json:"text"`
	Error          string  `json:"error"`
}

// ProcessChunk sends one sample buffer and reads the incremental progress
// frame. An overflow report from the daemon maps to domain.ErrBufferOverflow.
func (c *Client) ProcessChunk(ctx context.Context, samples []byte) (domain.ChunkResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ChunkResult{}, errors.New("whisperd: streaming not initialized")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		_ = c.conn.SetWriteDeadline(deadline)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, samples); err != nil {
		return domain.ChunkResult{}, fmt.Errorf("whisperd: send chunk: %w", err)
	}

	var frame progressFrame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return domain.ChunkResult{}, fmt.Errorf("whisperd: read progress: %w", err)
	}
	if frame.Error == "buffer_overflow" {
		return domain.ChunkResult{}, fmt.Errorf("whisperd: %w", domain.ErrBufferOverflow)
	}
	if frame.Error != "" {
		return domain.ChunkResult{}, fmt.Errorf("whisperd: chunk rejected: %s", frame.Error)
	}
	return domain.ChunkResult{
		ConfirmedDelta: frame.ConfirmedDelta,
		Pending:        frame.Pending,
		Decoding:       frame.Decoding,
		Throughput:     frame.Throughput,
	}, nil
}

// Finalize asks the daemon for the finished transcript.
func (c *Client) Finalize(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "", errors.New("whisperd: streaming not initialized")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		_ = c.conn.SetWriteDeadline(deadline)
	}
	if err := c.conn.WriteJSON(map[string]string{"type": "finalize"}); err != nil {
		return "", fmt.Errorf("whisperd: request finalize: %w", err)
	}

	var frame progressFrame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return "", fmt.Errorf("whisperd: read final transcript: %w", err)
	}
	if frame.Error != "" {
		return "", fmt.Errorf("whisperd: finalize rejected: %s", frame.Error)
	}
	return strings.TrimSpace(frame.Text), nil
}

// Reset drops the streaming connection, if any.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.conn.Close()
	c.conn = nil
}

func (c *Client) streamURL(modelID string, confirmationCount int, language string) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("whisperd: parse base url: %w", err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/stream"

	q := url.Values{}
	if modelID != "" {
		q.Set("model", modelID)
	}
	if confirmationCount > 0 {
		q.Set("confirmation_count", strconv.Itoa(confirmationCount))
	}
	if language != "" {
		q.Set("language", language)
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whisperd: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisperd: %s: %s", path, readError(resp.Body, resp.StatusCode))
	}
	return nil
}

func readError(r io.Reader, status int) string {
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&out); err == nil && out.Error != "" {
		return out.Error
	}
	return http.StatusText(status)
}
