// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Radio dispatch calls arrive as complete recordings a few seconds to a
// couple of minutes long, so the contract is batch: one audio clip in, one
// transcript out. Providers wrap either a local whisper.cpp engine or a
// hosted transcription API and expose the same Transcribe call.
//
// Scanner audio is hard input: narrow-band FM, squelch tails, clipped
// openings. Providers accept a free-text vocabulary prompt so deployments
// can bias recognition toward local street and agency names.
//
// Implementations must be safe for concurrent use; the pipeline transcribes
// multiple calls in parallel under a bounded semaphore.
package stt

import "context"

// Audio is one complete dispatch call recording as raw 16-bit signed
// little-endian PCM.
type Audio struct {
	// PCM is the raw sample data.
	PCM []byte

	// SampleRate is the sample rate in Hz. Trunked-radio feeds commonly
	// deliver 8000; STT-optimised pipelines resample to 16000.
	SampleRate int

	// Channels is the channel count. Scanner audio is mono in practice;
	// providers down-mix anything else.
	Channels int
}

// Result is the transcription of one call.
type Result struct {
	// Text is the full transcript of the recording.
	Text string

	// Language is the BCP-47 tag the provider recognised or was configured
	// with, when known.
	Language string
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe converts one complete call recording into text. An empty
	// Text with a nil error means the provider heard no speech; errors are
	// reserved for transport and engine failures.
	Transcribe(ctx context.Context, audio Audio) (*Result, error)
}
