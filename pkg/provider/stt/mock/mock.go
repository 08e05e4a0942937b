// Package mock provides a test double for [stt.Provider].
//
// Set the exported fields to control behaviour and inspect the recorded
// calls afterwards:
//
//	p := &mock.Provider{Text: "hello world", LoadProgress: []int{50, 100}}
//	_ = p.Load(ctx, progressFn)
//	tr, _ := p.Transcribe(ctx, stt.Request{ID: "r1"})
//	p.TranscribeCalls() // 1
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/holdscribe/pkg/provider/stt"
)

// Provider is a mock implementation of [stt.Provider].
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe when TranscribeFn is nil.
	Text string

	// TranscribeErr, if non-nil, is returned by Transcribe.
	TranscribeErr error

	// TranscribeFn, if set, replaces the default Transcribe behaviour.
	TranscribeFn func(ctx context.Context, req stt.Request) (stt.Transcript, error)

	// Block, if non-nil, makes Transcribe wait until it is closed or the
	// context ends.
	Block chan struct{}

	// LoadErr, if non-nil, is returned by Load.
	LoadErr error

	// LoadDelay delays Load.
	LoadDelay time.Duration

	// LoadProgress values are reported, in order, by Load.
	LoadProgress []int

	loads       int
	requests    []stt.Request
	closes      int
	transcribed chan struct{}
}

var _ stt.Provider = (*Provider)(nil)

// Load records the call, reports LoadProgress and returns LoadErr.
func (p *Provider) Load(ctx context.Context, progress stt.ProgressFunc) error {
	p.mu.Lock()
	p.loads++
	delay, steps, err := p.LoadDelay, p.LoadProgress, p.LoadErr
	p.mu.Unlock()

	for _, pct := range steps {
		if progress != nil {
			progress(pct)
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Transcribe records req and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	fn, block, text, err := p.TranscribeFn, p.Block, p.Text, p.TranscribeErr
	if p.transcribed != nil {
		select {
		case p.transcribed <- struct{}{}:
		default:
		}
	}
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, Language: req.Language}, nil
}

// Close records the call.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// Started returns a channel that receives a value each time Transcribe is
// entered. Call it before the transcription is expected to start.
func (p *Provider) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transcribed == nil {
		p.transcribed = make(chan struct{}, 16)
	}
	return p.transcribed
}

// LoadCalls returns how many times Load was called.
func (p *Provider) LoadCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

// TranscribeCalls returns how many times Transcribe was called.
func (p *Provider) TranscribeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns a copy of every request passed to Transcribe.
func (p *Provider) Requests() []stt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stt.Request(nil), p.requests...)
}

// CloseCalls returns how many times Close was called.
func (p *Provider) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}
