// Package pion implements the engine's transport boundary on a pion WebRTC
// peer connection. The transport acts as the receiving side of an SFU
// connection: remote audio tracks arrive via OnTrack, every track is drained
// continuously, and a subscription attaches an opus decoder that turns the
// RTP payloads into playable samples.
package pion

import (
	"context"
	"sync"

	"github.com/faiface/beep"
	"github.com/hraban/opus"
	"github.com/juju/errors"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/soundmap/soundmap/engine/config"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"github.com/soundmap/soundmap/engine/pionlogger"
	"github.com/soundmap/soundmap/engine/transport"
)

// ErrAlreadySubscribed is returned when a track already has an attached
// stream.
var ErrAlreadySubscribed = errors.New("already subscribed")

// maxOpusFrameSamples is the largest opus frame (120 ms at 48 kHz) per
// channel.
const maxOpusFrameSamples = 5760

const defaultSampleRate = 48000

type Params struct {
	Log        logger.Logger
	ClientID   identifiers.ClientID
	ICEServers []config.ICEServer

	// SampleRate is the decode rate. Defaults to 48 kHz.
	SampleRate beep.SampleRate
}

// Transport is a receive-only WebRTC transport. Signaling is driven
// externally through HandleOffer, AddICECandidate and OnICECandidate.
type Transport struct {
	log        logger.Logger
	clientID   identifiers.ClientID
	sampleRate beep.SampleRate

	pc     *webrtc.PeerConnection
	events chan transport.TrackEvent
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	remote map[identifiers.TrackID]*remoteTrack
}

var _ transport.Transport = &Transport{}

// remoteTrack pairs a published track with its optional decode sink. The
// read loop runs for the track's whole life; the sink comes and goes with
// subscriptions.
type remoteTrack struct {
	simple transport.SimpleTrack

	mu      sync.Mutex
	decoder *opus.Decoder
	stream  *opusStream
	pcm     []int16
}

func New(params Params) (*Transport, error) {
	log := params.Log.WithNamespaceAppended("pion_transport")

	sampleRate := params.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Annotate(err, "register codecs")
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: pionlogger.NewFactory(log),
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)

	iceServers := make([]webrtc.ICEServer, len(params.ICEServers))
	for i, s := range params.ICEServers {
		iceServers[i] = webrtc.ICEServer{
			URLs: s.URLs,
		}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		return nil, errors.Annotate(err, "new peer connection")
	}

	t := &Transport{
		log:        log,
		clientID:   params.ClientID,
		sampleRate: sampleRate,
		pc:         pc,
		events:     make(chan transport.TrackEvent),
		done:       make(chan struct{}),
		remote:     map[identifiers.TrackID]*remoteTrack{},
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.log.Info("Connection state changed", logger.Ctx{
			"state": state,
		})
	})

	pc.OnTrack(t.handleTrack)

	return t, nil
}

func (t *Transport) ClientID() identifiers.ClientID {
	return t.clientID
}

func (t *Transport) TrackEvents() <-chan transport.TrackEvent {
	return t.events
}

// HandleOffer applies a remote offer and returns the local answer once ICE
// gathering has completed.
func (t *Transport) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, errors.Annotate(err, "set remote description")
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, errors.Annotate(err, "create answer")
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)

	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, errors.Annotate(err, "set local description")
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, errors.Trace(ctx.Err())
	}

	return *t.pc.LocalDescription(), nil
}

// AddICECandidate adds a remote ICE candidate received over signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return errors.Annotate(t.pc.AddICECandidate(candidate), "add ice candidate")
}

// OnICECandidate registers a callback for local candidates to send over
// signaling. The callback fires with a zero-value candidate when gathering
// ends.
func (t *Transport) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			f(webrtc.ICECandidateInit{})

			return
		}

		f(c.ToJSON())
	})
}

// handleTrack registers a new remote track and starts its read loop. Tracks
// with codecs the engine cannot decode are drained without being announced.
func (t *Transport) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	trackID := identifiers.TrackID(track.ID())

	if track.Kind() != webrtc.RTPCodecTypeAudio || track.Codec().MimeType != webrtc.MimeTypeOpus {
		t.log.Warn("Draining track with unsupported codec", logger.Ctx{
			"track_id":  trackID,
			"mime_type": track.Codec().MimeType,
		})

		t.mu.Lock()

		if t.closed {
			t.mu.Unlock()

			return
		}

		t.wg.Add(1)

		t.mu.Unlock()

		go func() {
			defer t.wg.Done()

			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()

		return
	}

	rt := &remoteTrack{
		simple: transport.NewSimpleTrack(
			trackID,
			identifiers.PeerID(track.StreamID()),
			track.ID(),
		),
	}

	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return
	}

	t.remote[trackID] = rt
	prometheusWebRTCTracksTotal.Inc()
	prometheusWebRTCTracksActive.Inc()

	t.wg.Add(1)

	t.mu.Unlock()

	t.log.Info("Remote track published", logger.Ctx{
		"track_id": trackID,
		"peer_id":  rt.simple.PeerID(),
	})

	t.emit(transport.TrackEvent{
		Track: rt.simple,
		Type:  transport.TrackEventTypePublished,
	})

	go t.readLoop(track, rt)
}

// readLoop drains the remote track for its whole life. Packets are decoded
// only while a subscription's stream is attached.
func (t *Transport) readLoop(track *webrtc.TrackRemote, rt *remoteTrack) {
	defer t.wg.Done()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			break
		}

		prometheusRTPPacketsReceived.Inc()

		t.handlePacket(rt, pkt)
	}

	trackID := rt.simple.TrackID()

	t.mu.Lock()
	delete(t.remote, trackID)
	prometheusWebRTCTracksActive.Dec()
	t.mu.Unlock()

	rt.detach(nil)

	t.log.Info("Remote track ended", logger.Ctx{
		"track_id": trackID,
	})

	t.emit(transport.TrackEvent{
		Track: rt.simple,
		Type:  transport.TrackEventTypeUnpublished,
	})
}

func (t *Transport) handlePacket(rt *remoteTrack, pkt *rtp.Packet) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.stream == nil {
		return
	}

	n, err := rt.decoder.Decode(pkt.Payload, rt.pcm)
	if err != nil {
		t.log.Warn("Decode opus frame", logger.Ctx{
			"track_id": rt.simple.TrackID(),
			"error":    err,
		})

		return
	}

	rt.stream.push(rt.pcm, n)
}

// detach removes the current stream when it matches expect; a nil expect
// removes any stream. Returns the removed stream.
func (rt *remoteTrack) detach(expect *opusStream) *opusStream {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.stream == nil || (expect != nil && rt.stream != expect) {
		return nil
	}

	stream := rt.stream
	rt.stream = nil
	rt.decoder = nil

	return stream
}

func (t *Transport) emit(event transport.TrackEvent) {
	select {
	case t.events <- event:
	case <-t.done:
	}
}

// Subscribe attaches an opus decoder to a published track and returns the
// decoded stream. The stream stays live until it is closed or the track
// ends.
func (t *Transport) Subscribe(ctx context.Context, trackID identifiers.TrackID) (transport.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	t.mu.Lock()
	rt, ok := t.remote[trackID]
	t.mu.Unlock()

	if !ok {
		return nil, errors.Errorf("subscribe: track not found: %s", trackID)
	}

	decoder, err := opus.NewDecoder(int(t.sampleRate), streamChannels)
	if err != nil {
		return nil, errors.Annotate(err, "new opus decoder")
	}

	stream := newOpusStream(trackID, t.sampleRate)
	stream.detach = func() {
		rt.detach(stream)
	}

	rt.mu.Lock()

	if rt.stream != nil {
		rt.mu.Unlock()

		return nil, errors.Annotatef(ErrAlreadySubscribed, "subscribe: %s", trackID)
	}

	rt.decoder = decoder
	rt.stream = stream
	rt.pcm = make([]int16, maxOpusFrameSamples*streamChannels)

	rt.mu.Unlock()

	return stream, nil
}

// Unsubscribe detaches the decode sink from a track. The track keeps being
// drained and can be subscribed again. No-op for unknown tracks.
func (t *Transport) Unsubscribe(trackID identifiers.TrackID) error {
	t.mu.Lock()
	rt, ok := t.remote[trackID]
	t.mu.Unlock()

	if !ok {
		return nil
	}

	rt.detach(nil)

	return nil
}

// Close shuts the peer connection down, which ends every read loop, then
// closes the event channel.
func (t *Transport) Close() error {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return nil
	}

	t.closed = true

	t.mu.Unlock()

	close(t.done)

	err := errors.Trace(t.pc.Close())

	t.wg.Wait()
	close(t.events)

	return err
}
