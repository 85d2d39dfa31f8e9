package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xaynetwork/xaynet/phase"
)

// RegisterRoutes mounts the round endpoints of spec.md §6 onto r,
// following the teacher's RegisterRoutes(r chi.Router) convention
// (server/handler.go, aggregator/handler.go before it was adapted
// away).
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/round", s.handleGetRound)
	r.Post("/round/sum", s.handleSubmitSum)
	r.Post("/round/update", s.handleSubmitUpdate)
	r.Post("/round/sum2", s.handleSubmitSum2)
	r.Post("/round/{phase}/part", s.handlePart)
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	info, err := s.coord.Info(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSubmitSum(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	msg, err := phase.DecodeMessage[phase.Signed[phase.SumMessage]](r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse request: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.coord.SubmitSum(r.Context(), msg); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSubmitUpdate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	msg, err := phase.DecodeMessage[phase.Signed[phase.UpdateMessage]](r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse request: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.coord.SubmitUpdate(r.Context(), msg); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSubmitSum2(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	msg, err := phase.DecodeMessage[phase.Signed[phase.Sum2Message]](r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse request: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.coord.SubmitSum2(r.Context(), msg); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// partRequest is one chunk of a multi-part submission: key identifies
// the in-progress reassembly (the sender picks it, typically its
// public key plus a per-message nonce), index/total describe this
// chunk's position, and payload is the raw chunk bytes. Once the final
// chunk arrives, the reassembled body is decoded and dispatched exactly
// as handleSubmitSum/Update/Sum2 would for a single-part request of the
// same /round/{phase} target.
type partRequest struct {
	Key     string `json:"key"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Payload []byte `json:"payload"`
}

// handlePart implements spec.md §6's multi-part reassembly endpoint:
// it buffers chunks per (phase, key) until all have arrived, then
// replays the reassembled body through the same phase dispatch a
// single-part POST would use.
func (s *Server) handlePart(w http.ResponseWriter, r *http.Request) {
	phaseName := chi.URLParam(r, "phase")
	buf, ok := s.reassembly[phaseName]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown phase %q", phaseName), http.StatusNotFound)
		return
	}

	info, err := s.coord.Info(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	defer r.Body.Close()
	req, err := phase.DecodeMessage[partRequest](r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse part: %v", err), http.StatusBadRequest)
		return
	}

	complete, done, err := buf.addPart(info.Round, req.Key, req.Index, req.Total, req.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !done {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch phaseName {
	case "sum":
		dispatchReassembled(w, r.Context(), complete, s.coord.SubmitSum)
	case "update":
		dispatchReassembled(w, r.Context(), complete, s.coord.SubmitUpdate)
	case "sum2":
		dispatchReassembled(w, r.Context(), complete, s.coord.SubmitSum2)
	}
}

// dispatchReassembled decodes a fully reassembled body into
// phase.Signed[T] and submits it via submit, writing the same
// 202/4xx/5xx response a single-part request to the equivalent
// /round/{phase} endpoint would produce. Generic over the three
// Signed[T] payload kinds so handlePart needs no per-phase duplication
// beyond selecting which Coordinator method to call.
func dispatchReassembled[T any](w http.ResponseWriter, ctx context.Context, body []byte, submit func(context.Context, *phase.Signed[T]) error) {
	msg, err := phase.DecodeMessage[phase.Signed[T]](bytes.NewReader(body))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse reassembled body: %v", err), http.StatusBadRequest)
		return
	}
	if err := submit(ctx, msg); err != nil {
		var perr *phase.Error
		if errors.As(err, &perr) {
			http.Error(w, perr.Msg, perr.Kind.HTTPStatus())
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var perr *phase.Error
	if errors.As(err, &perr) {
		http.Error(w, perr.Msg, perr.Kind.HTTPStatus())
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
