package panel

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/govind123143/changecalculator/internal/gateway"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const idempotencyHeader = "X-Idempotency-Key"

type snapshotResponse struct {
	gateway.Snapshot
	Symbol  string `json:"symbol"`
	Account string `json:"account,omitempty"`
	IsOwner bool   `json:"isOwner"`
	// ReadError is set when the refresh could not resolve every field.
	ReadError string `json:"readError,omitempty"`
}

type accountResponse struct {
	Address   string `json:"address,omitempty"`
	Connected bool   `json:"connected"`
	IsOwner   bool   `json:"isOwner"`
}

type actionRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.gw.Snapshot()
	resp := snapshotResponse{Symbol: s.cfg.NativeSymbol}

	if r.URL.Query().Get("refresh") == "true" {
		var err error
		snap, err = s.gw.Refresh(r.Context())
		if err != nil {
			resp.ReadError = err.Error()
		}
	}

	resp.Snapshot = snap
	if acct, ok := s.gw.Account(); ok {
		resp.Account = acct.Hex()
		resp.IsOwner = snap.IsOwner(resp.Account)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Status())
}

func (s *Server) handleAccount(w http.ResponseWriter, _ *http.Request) {
	var resp accountResponse
	if acct, ok := s.gw.Account(); ok {
		resp.Address = acct.Hex()
		resp.Connected = true
		resp.IsOwner = s.gw.Snapshot().IsOwner(resp.Address)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIAction(w http.ResponseWriter, r *http.Request) {
	action, ok := actionFromPath(chi.URLParam(r, "action"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing "+idempotencyHeader+" header")
		return
	}

	var payload actionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}

	code, body, replay, err := s.submit(r.Context(), key, gateway.Request{Action: action, Amount: payload.Amount})
	if err != nil {
		s.log.Info("action refused",
			zap.String("action", string(action)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if replay {
		w.Header().Set("Idempotent-Replay", "true")
	}
	writeRaw(w, code, body)
}
