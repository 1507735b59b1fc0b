package audio

import (
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/atomic"
)

// ErrOutputUnavailable is returned when the platform has no usable audio
// output. The engine keeps running without spatial audio; the condition is
// reported upward, never fatal.
var ErrOutputUnavailable = errors.New("audio output unavailable")

// Output is the shared audio sink owned by the graph controller. Exactly one
// exists per listener session. The Lock/Unlock pair guards mutation of any
// streamer currently being pulled by the output.
type Output interface {
	// Init prepares the output for the given sample rate. It may fail when
	// there is no audio device or playback is blocked; callers degrade
	// gracefully and may retry on a later user gesture.
	Init(sampleRate beep.SampleRate) error

	// Play starts pulling samples from the streamer. The streamer keeps
	// playing until it drains.
	Play(s beep.Streamer)

	Lock()
	Unlock()

	// Close stops playback and releases the output. Safe to call multiple
	// times.
	Close() error
}

// SpeakerOutput renders through the machine's default audio device.
type SpeakerOutput struct {
	buffer      time.Duration
	initialized atomic.Bool
}

var _ Output = &SpeakerOutput{}

// NewSpeakerOutput creates a speaker-backed output with the given buffer
// duration. Shorter buffers lower latency at the cost of stutter resistance.
func NewSpeakerOutput(buffer time.Duration) *SpeakerOutput {
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}

	return &SpeakerOutput{
		buffer: buffer,
	}
}

func (s *SpeakerOutput) Init(sampleRate beep.SampleRate) error {
	if s.initialized.Get() {
		return nil
	}

	if err := speaker.Init(sampleRate, sampleRate.N(s.buffer)); err != nil {
		return errors.Annotatef(ErrOutputUnavailable, "speaker init: %s", err)
	}

	s.initialized.Set(true)

	return nil
}

func (s *SpeakerOutput) Play(streamer beep.Streamer) {
	speaker.Play(streamer)
}

func (s *SpeakerOutput) Lock() {
	speaker.Lock()
}

func (s *SpeakerOutput) Unlock() {
	speaker.Unlock()
}

func (s *SpeakerOutput) Close() error {
	if s.initialized.CompareAndSwap(false) {
		speaker.Clear()
	}

	return nil
}
