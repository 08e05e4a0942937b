// Package whisper provides whisper.cpp-backed STT providers.
//
// [Provider] talks to a running whisper-server binary over its REST API
// (POST /inference, optionally POST /load). [NativeProvider] links the
// whisper.cpp library directly through its CGO bindings.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithModelPath("/models/ggml-small.en.bin"),
//	)
//	err = p.Load(ctx, nil)
//	tr, err := p.Transcribe(ctx, stt.Request{Samples: pcm, Language: "en"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/holdscribe/pkg/audio"
	"github.com/MrWong99/holdscribe/pkg/provider/stt"
)

// autoLanguage asks whisper.cpp to detect the spoken language.
const autoLanguage = "auto"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModelPath sets a model file path, on the server's filesystem, that
// Load asks the server to switch to via POST /load. When empty the server
// keeps whichever model it was started with.
func WithModelPath(path string) Option {
	return func(p *Provider) {
		p.modelPath = path
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	modelPath  string
	httpClient *http.Client

	mu     sync.Mutex
	loaded bool
}

// New creates a Provider that sends audio to the whisper.cpp server at
// serverURL (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Load verifies the server is reachable and, when a model path is
// configured, asks it to load that model.
func (p *Provider) Load(ctx context.Context, progress stt.ProgressFunc) error {
	report(progress, 0)
	if p.modelPath != "" {
		if err := p.loadModel(ctx); err != nil {
			return fmt.Errorf("%w: %v", stt.ErrEngineInit, err)
		}
	} else if err := p.ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", stt.ErrEngineInit, err)
	}
	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()
	report(progress, 100)
	return nil
}

func (p *Provider) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/", nil)
	if err != nil {
		return fmt.Errorf("whisper: create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: reach server: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) loadModel(ctx context.Context) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", p.modelPath); err != nil {
		return fmt.Errorf("whisper: write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	_, err := p.post(ctx, "/load", mw.FormDataContentType(), &body)
	return err
}

// Transcribe encodes the request as WAV and POSTs it to /inference.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	loaded := p.loaded
	p.mu.Unlock()
	if !loaded {
		return stt.Transcript{}, stt.ErrNotLoaded
	}

	wav, err := audio.EncodeWAV(audio.Clip{Format: audio.SpeechFormat, Samples: req.Samples})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("%w: %v", stt.ErrDecode, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	lang := req.Language
	if lang == "" {
		lang = autoLanguage
	}
	fields := map[string]string{
		"language":        lang,
		"response_format": "json",
		"temperature":     "0.0",
	}
	if req.Prompt != "" {
		fields["prompt"] = req.Prompt
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	data, err := p.post(ctx, "/inference", mw.FormDataContentType(), &body)
	if err != nil {
		return stt.Transcript{}, err
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	tr := stt.Transcript{Text: strings.TrimSpace(result.Text), Language: req.Language}
	if tr.Empty() {
		return tr, stt.ErrNoSpeech
	}
	return tr, nil
}

// post sends body to path and returns the response body of a 200 reply.
func (p *Provider) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: %s returned HTTP %d: %s", path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

// Close marks the provider unloaded. The server process is not owned by
// the provider and keeps running.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = false
	return nil
}

func report(progress stt.ProgressFunc, pct int) {
	if progress != nil {
		progress(pct)
	}
}
