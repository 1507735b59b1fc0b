package pion

import (
	"sync"

	"github.com/faiface/beep"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/transport"
)

const streamChannels = 2

// maxBufferedSeconds bounds the decoded sample queue. The stream is live:
// when the playback side stalls, the oldest samples are dropped rather than
// letting latency grow without bound.
const maxBufferedSeconds = 1

// opusStream is the decoded sample queue between one remote track's RTP
// reader and the playback graph. Writes come from the transport's read loop,
// reads from the audio pull path. When the queue runs dry the stream plays
// silence and keeps going; only Close ends it.
type opusStream struct {
	trackID    identifiers.TrackID
	sampleRate beep.SampleRate
	maxSamples int

	// detach disconnects the stream from the transport's read loop. Set by
	// the transport, called once on Close.
	detach func()

	mu     sync.Mutex
	buf    [][2]float64
	closed bool
}

var _ transport.MediaStream = &opusStream{}

func newOpusStream(trackID identifiers.TrackID, sampleRate beep.SampleRate) *opusStream {
	return &opusStream{
		trackID:    trackID,
		sampleRate: sampleRate,
		maxSamples: int(sampleRate) * maxBufferedSeconds,
	}
}

// push appends decoded interleaved stereo PCM. n is the number of samples
// per channel.
func (s *opusStream) push(pcm []int16, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	for i := 0; i < n; i++ {
		s.buf = append(s.buf, [2]float64{
			float64(pcm[i*streamChannels]) / (1 << 15),
			float64(pcm[i*streamChannels+1]) / (1 << 15),
		})
	}

	if overflow := len(s.buf) - s.maxSamples; overflow > 0 {
		s.buf = s.buf[overflow:]
	}
}

func (s *opusStream) Streamer() beep.Streamer {
	return s
}

func (s *opusStream) SampleRate() beep.SampleRate {
	return s.sampleRate
}

// Stream implements beep.Streamer. It never blocks the audio pull: missing
// samples are zero-filled. After Close the remaining buffer drains and the
// stream reports done.
func (s *opusStream) Stream(samples [][2]float64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := copy(samples, s.buf)
	s.buf = s.buf[n:]

	if s.closed {
		return n, n > 0
	}

	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}

	return len(samples), true
}

func (s *opusStream) Err() error {
	return nil
}

// Close detaches the stream from the transport and ends it once the buffered
// samples drain. Idempotent.
func (s *opusStream) Close() error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	detach := s.detach

	s.mu.Unlock()

	if detach != nil {
		detach()
	}

	return nil
}
