// Package api exposes the engine over HTTP: presence and track queries, the
// listener position endpoint, volume and subscription controls, and the
// metrics endpoint. It is a thin translation layer; every decision lives in
// the session.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soundmap/soundmap/engine/config"
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"github.com/soundmap/soundmap/engine/multierr"
	"github.com/soundmap/soundmap/engine/participant"
	"github.com/soundmap/soundmap/engine/session"
	"github.com/soundmap/soundmap/engine/subscription"
	"github.com/soundmap/soundmap/engine/track"
)

// Engine is the session surface the HTTP layer drives.
type Engine interface {
	ClientID() identifiers.ClientID
	UpdateListenerPosition(position geo.Position) error
	SetProfile(update participant.Update) error
	EnableAudio() error
	AudioReady() bool
	SetMasterVolume(level float64)
	SetMusicVolume(level float64)
	SetSourceVolume(trackID identifiers.TrackID, level float64)
	Subscribe(trackID identifiers.TrackID) error
	Unsubscribe(trackID identifiers.TrackID) error
	SetTrackMuted(trackID identifiers.TrackID, muted bool) error
	Snapshot() []participant.State
	Nearby(radius float64) ([]participant.Nearby, error)
	Descriptors() []track.Descriptor
}

var _ Engine = &session.Session{}

type Mux struct {
	log      logger.Logger
	handler  *chi.Mux
	engine   Engine
	renderer *renderer
	version  string
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.handler.ServeHTTP(w, r)
}

func withCounter(counter prometheus.Counter, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counter.Inc()
		h.ServeHTTP(w, r)
	}
}

func NewMux(
	log logger.Logger,
	version string,
	engine Engine,
	prom config.PrometheusConfig,
) *Mux {
	log = log.WithNamespaceAppended("mux")

	handler := chi.NewRouter()
	mux := &Mux{
		log:      log,
		handler:  handler,
		engine:   engine,
		renderer: newRenderer(log),
		version:  version,
	}

	handler.Route("/", func(router chi.Router) {
		router.Get("/probes/liveness", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
		})
		router.Get("/probes/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
		})
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			accessToken := r.Header.Get("Authorization")
			if strings.HasPrefix(accessToken, "Bearer ") {
				accessToken = accessToken[len("Bearer "):]
			} else {
				accessToken = r.FormValue("access_token")
			}

			if accessToken == "" || accessToken != prom.AccessToken {
				w.WriteHeader(http.StatusUnauthorized)

				return
			}
			promhttp.Handler().ServeHTTP(w, r)
		})

		router.Route("/api", func(router chi.Router) {
			router.Get("/status", mux.routeStatus)
			router.Get("/participants", mux.routeParticipants)
			router.Get("/participants/nearby", mux.routeNearby)
			router.Get("/tracks", mux.routeTracks)
			router.Post("/position", withCounter(prometheusPositionUpdatesTotal, mux.routePosition))
			router.Post("/profile", mux.routeProfile)
			router.Post("/audio/enable", withCounter(prometheusEnableAudioTotal, mux.routeEnableAudio))
			router.Post("/volume/master", mux.routeMasterVolume)
			router.Post("/volume/music", mux.routeMusicVolume)
			router.Post("/tracks/{trackID}/volume", mux.routeSourceVolume)
			router.Post("/tracks/{trackID}/subscribe", withCounter(prometheusSubscribeRequestsTotal, mux.routeSubscribe))
			router.Post("/tracks/{trackID}/unsubscribe", mux.routeUnsubscribe)
			router.Post("/tracks/{trackID}/mute", mux.routeMute)
		})
	})

	return mux
}

// decode reads a JSON request body into v. The body is required.
func (mux *Mux) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		mux.renderer.renderError(w, http.StatusBadRequest, errors.Annotatef(err, "decode request"))

		return false
	}

	return true
}

// renderEngineError maps engine errors to HTTP statuses.
func (mux *Mux) renderEngineError(w http.ResponseWriter, err error) {
	switch {
	case multierr.Is(err, subscription.ErrUnknownTrack):
		mux.renderer.renderError(w, http.StatusNotFound, err)
	case multierr.Is(err, participant.ErrInvalidPosition):
		mux.renderer.renderError(w, http.StatusBadRequest, err)
	case multierr.Is(err, session.ErrNoListenerPosition):
		mux.renderer.renderError(w, http.StatusConflict, err)
	default:
		mux.log.Error("Request failed", errors.Trace(err), nil)
		mux.renderer.renderError(w, http.StatusInternalServerError, err)
	}
}

type statusResponse struct {
	ClientID   identifiers.ClientID `json:"clientId"`
	AudioReady bool                 `json:"audioReady"`
	Version    string               `json:"version"`
}

func (mux *Mux) routeStatus(w http.ResponseWriter, r *http.Request) {
	mux.renderer.render(w, http.StatusOK, statusResponse{
		ClientID:   mux.engine.ClientID(),
		AudioReady: mux.engine.AudioReady(),
		Version:    mux.version,
	})
}

func (mux *Mux) routeParticipants(w http.ResponseWriter, r *http.Request) {
	mux.renderer.render(w, http.StatusOK, mux.engine.Snapshot())
}

func (mux *Mux) routeNearby(w http.ResponseWriter, r *http.Request) {
	radius, err := strconv.ParseFloat(r.FormValue("radius"), 64)
	if err != nil || radius < 0 {
		mux.renderer.renderError(w, http.StatusBadRequest, errors.Errorf("radius must be a non-negative number"))

		return
	}

	nearby, err := mux.engine.Nearby(radius)
	if err != nil {
		mux.renderEngineError(w, err)

		return
	}

	if nearby == nil {
		nearby = []participant.Nearby{}
	}

	mux.renderer.render(w, http.StatusOK, nearby)
}

func (mux *Mux) routeTracks(w http.ResponseWriter, r *http.Request) {
	mux.renderer.render(w, http.StatusOK, mux.engine.Descriptors())
}

func (mux *Mux) routePosition(w http.ResponseWriter, r *http.Request) {
	var position geo.Position

	if !mux.decode(w, r, &position) {
		return
	}

	if err := mux.engine.UpdateListenerPosition(position); err != nil {
		mux.renderEngineError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type profileRequest struct {
	Username         *string `json:"username"`
	AvatarURL        *string `json:"avatarUrl"`
	MusicTitle       *string `json:"musicTitle"`
	PartyTitle       *string `json:"partyTitle"`
	PartyDescription *string `json:"partyDescription"`
}

func (mux *Mux) routeProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest

	if !mux.decode(w, r, &req) {
		return
	}

	err := mux.engine.SetProfile(participant.Update{
		Username:         req.Username,
		AvatarURL:        req.AvatarURL,
		MusicTitle:       req.MusicTitle,
		PartyTitle:       req.PartyTitle,
		PartyDescription: req.PartyDescription,
	})
	if err != nil {
		mux.renderEngineError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (mux *Mux) routeEnableAudio(w http.ResponseWriter, r *http.Request) {
	if err := mux.engine.EnableAudio(); err != nil {
		mux.renderEngineError(w, err)

		return
	}

	mux.renderer.render(w, http.StatusOK, statusResponse{
		ClientID:   mux.engine.ClientID(),
		AudioReady: mux.engine.AudioReady(),
		Version:    mux.version,
	})
}

type volumeRequest struct {
	Level float64 `json:"level"`
}

func (mux *Mux) routeMasterVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest

	if !mux.decode(w, r, &req) {
		return
	}

	mux.engine.SetMasterVolume(req.Level)

	w.WriteHeader(http.StatusNoContent)
}

func (mux *Mux) routeMusicVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest

	if !mux.decode(w, r, &req) {
		return
	}

	mux.engine.SetMusicVolume(req.Level)

	w.WriteHeader(http.StatusNoContent)
}

func trackID(r *http.Request) identifiers.TrackID {
	return identifiers.TrackID(chi.URLParam(r, "trackID"))
}

func (mux *Mux) routeSourceVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest

	if !mux.decode(w, r, &req) {
		return
	}

	mux.engine.SetSourceVolume(trackID(r), req.Level)

	w.WriteHeader(http.StatusNoContent)
}

func (mux *Mux) routeSubscribe(w http.ResponseWriter, r *http.Request) {
	if err := mux.engine.Subscribe(trackID(r)); err != nil {
		mux.renderEngineError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (mux *Mux) routeUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := mux.engine.Unsubscribe(trackID(r)); err != nil {
		mux.renderEngineError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

func (mux *Mux) routeMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest

	if !mux.decode(w, r, &req) {
		return
	}

	if err := mux.engine.SetTrackMuted(trackID(r), req.Muted); err != nil {
		mux.renderEngineError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
