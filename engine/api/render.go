package api

import (
	"encoding/json"
	"net/http"

	"github.com/juju/errors"
	"github.com/oxtoacart/bpool"
	"github.com/soundmap/soundmap/engine/logger"
)

const defaultBufferPoolSize = 128

// renderer writes JSON responses through a buffer pool so an encoding error
// never leaves a half-written body behind a 200 status.
type renderer struct {
	log logger.Logger

	bufPool *bpool.BufferPool
}

func newRenderer(log logger.Logger) *renderer {
	return &renderer{
		log:     log.WithNamespaceAppended("renderer"),
		bufPool: bpool.NewBufferPool(defaultBufferPoolSize),
	}
}

func (r *renderer) render(w http.ResponseWriter, status int, data interface{}) {
	buf := r.bufPool.Get()
	defer r.bufPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(data); err != nil {
		r.log.Error("Encode response", errors.Trace(err), nil)
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := buf.WriteTo(w); err != nil {
		r.log.Error("Write response", errors.Trace(err), nil)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (r *renderer) renderError(w http.ResponseWriter, status int, err error) {
	r.render(w, status, errorResponse{Error: err.Error()})
}
