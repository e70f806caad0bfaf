package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
	"git.home.luguber.info/inful/storydev/internal/indexing"
)

// IndexSource yields the initialized generator, or nil when indexing is off.
// *indexing.Future implements it.
type IndexSource interface {
	Wait(ctx context.Context) (indexing.Generator, error)
}

type indexHandlers struct {
	src     IndexSource
	legacy  bool
	adapter *ferrors.HTTPErrorAdapter
}

// write waits for the generator and renders its current snapshot.
func (h *indexHandlers) write(w http.ResponseWriter, r *http.Request, legacy bool) {
	if h.src == nil {
		h.adapter.WriteErrorResponse(w, r, ferrors.NotFoundError("index is disabled").Build())
		return
	}
	gen, err := h.src.Wait(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = ferrors.CanceledError("index is still initializing").WithCause(err).Build()
		} else if !ferrors.IsClassified(err) {
			err = ferrors.WrapError(err, ferrors.CategoryIndex, "index initialization failed").Build()
		}
		h.adapter.WriteErrorResponse(w, r, err)
		return
	}
	if gen == nil {
		h.adapter.WriteErrorResponse(w, r, ferrors.NotFoundError("index is disabled").Build())
		return
	}
	snap, err := gen.GetIndex(r.Context())
	if err != nil {
		if !ferrors.IsClassified(err) {
			err = ferrors.WrapError(err, ferrors.CategoryIndex, "index generation failed").Build()
		}
		h.adapter.WriteErrorResponse(w, r, err)
		return
	}

	var body any = snap
	if legacy {
		body = snap.Legacy()
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(body)
}

func (h *indexHandlers) index(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, false)
}

func (h *indexHandlers) stories(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.legacy)
}
