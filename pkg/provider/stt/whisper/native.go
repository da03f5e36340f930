// NativeProvider transcribes through the whisper.cpp CGO bindings instead
// of a whisper-server process. Building it needs libwhisper.a and whisper.h
// reachable through LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/dispatchmap/dispatchmap/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process. One model is loaded at
// startup and shared by every Transcribe call; each call gets its own
// whisper context, which is the binding's unit of thread safety.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption customises a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage selects the transcription language by BCP-47 code,
// "en" if unset.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the whisper.cpp model at modelPath. Loading a ggml model
// can take seconds and hundreds of megabytes, so construct the provider
// once and Close it on shutdown.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}

	p := &NativeProvider{language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}

	var err error
	if p.model, err = whisperlib.New(modelPath); err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return p, nil
}

// Close releases the loaded model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference on one complete call recording.
//
// A fresh whisper context is created per call; contexts are not thread-safe
// but the underlying model can be shared across goroutines.
func (p *NativeProvider) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	samples := pcmToFloat32Mono(audio.PCM, audio.Channels)

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", p.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return &stt.Result{
		Text:     strings.Join(parts, " "),
		Language: p.language,
	}, nil
}
