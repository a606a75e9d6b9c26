// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aplane-algo/jsvm/internal/repl"
	"github.com/aplane-algo/jsvm/internal/threaded"
)

// SessionInfo describes a session.
type SessionInfo struct {
	ID    string         `json:"id"`
	State threaded.State `json:"state"`
}

type execRequest struct {
	Source string `json:"source"`
}

type execResponse struct {
	OK    bool           `json:"ok"`
	State threaded.State `json:"state"`
}

type requestResponse struct {
	Request string `json:"request"`
}

type responseRequest struct {
	Response string `json:"response"`
}

type stateResponse struct {
	State threaded.State `json:"state"`
}

type evalRequest struct {
	Expression string `json:"expression"`
}

type valueResponse struct {
	OK    bool   `json:"ok"`
	Value string `json:"value,omitempty"`
}

type moduleRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

type replRequest struct {
	Line string `json:"line"`
}

type replResponse struct {
	Status  repl.Status    `json:"status"`
	Pending bool           `json:"pending"`
	State   threaded.State `json:"state"`
}

type handler struct {
	sessions *Sessions
}

func info(s *Session) SessionInfo {
	return SessionInfo{ID: s.ID, State: s.vm.State()}
}

// session resolves the {id} URL parameter, writing the error if unknown.
func (h *handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (h *handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Create()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info(sess))
}

func (h *handler) handleList(w http.ResponseWriter, r *http.Request) {
	all := h.sessions.List()
	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		out = append(out, info(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, info(sess))
}

func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleExec(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req execRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	compiled, err := sess.vm.ExecAsync(req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execResponse{OK: compiled, State: sess.vm.State()})
}

func (h *handler) handleReadRequest(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	text, err := sess.vm.ReadRequest()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestResponse{Request: text})
}

func (h *handler) handleWriteResponse(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req responseRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.vm.WriteResponse(req.Response); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: sess.vm.State()})
}

func (h *handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.vm.Terminate()
	writeJSON(w, http.StatusOK, stateResponse{State: sess.vm.State()})
}

func (h *handler) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.vm.ResetState(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: sess.vm.State()})
}

func (h *handler) handleOutput(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	out, err := sess.vm.ReadOutput()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) handleEval(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req evalRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	value, found, err := sess.vm.Eval(req.Expression)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{OK: found, Value: value})
}

func (h *handler) handleGlobal(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	value, found, err := sess.vm.GetGlobal(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{OK: found, Value: value})
}

func (h *handler) handleAddModule(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req moduleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, errBadRequest)
		return
	}
	compiled, err := sess.vm.AddModule(req.Name, req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{OK: compiled})
}

func (h *handler) handleREPL(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req replRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	status, pending, err := sess.Input(req.Line)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replResponse{Status: status, Pending: pending, State: sess.vm.State()})
}
