package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/invopop/jsonschema"

	"bookreader/backends"
	"bookreader/dialog"
	"bookreader/dispatch"
	"bookreader/document"
	"bookreader/metrics"
	"bookreader/params"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if err := templates.ExecuteTemplate(w, "login.html", map[string]bool{"Failed": r.URL.Query().Has("failed")}); err != nil {
		s.log.Error().Err(err).Msg("could not render login page")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Login(w, r, r.FormValue("password")) {
		http.Redirect(w, r, "/login?failed=1", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var content, stylesheet string
	err := s.loop.Call(r.Context(), func() {
		content = s.book.Document.HTML(func(id string) string { return "/images/" + id })
		stylesheet = s.book.Document.Stylesheet()
	})
	if err != nil {
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
		return
	}
	data := map[string]any{
		"Title":      s.book.Title,
		"BaseHref":   s.book.BaseHref,
		"Stylesheet": template.CSS(stylesheet),
		"Content":    template.HTML(content),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.log.Error().Err(err).Msg("could not render book")
	}
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var (
		res document.Resource
		ok  bool
	)
	if err := s.loop.Call(r.Context(), func() { res, ok = s.book.Document.Resource(id) }); err != nil {
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", res.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	_, _ = w.Write(res.Data)
}

// blockInfo lists one document block; Index is what confirm's start_block and end_block expect.
type blockInfo struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	Illustration bool   `json:"illustration"`
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	var out []blockInfo
	err := s.loop.Call(r.Context(), func() {
		doc := s.book.Document
		out = make([]blockInfo, 0, doc.BlockCount())
		for i := 0; i < doc.BlockCount(); i++ {
			b, _ := doc.Block(i)
			out = append(out, blockInfo{Index: i, Text: b.Text(), Illustration: b.Spec() != nil})
		}
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type backendInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	out := make([]backendInfo, len(s.factories))
	for i, f := range s.factories {
		out[i] = backendInfo{Index: i, Name: f.Name}
	}
	writeJSON(w, http.StatusOK, out)
}

type dialogState struct {
	Backend               string             `json:"backend,omitempty"`
	Index                 int                `json:"index"`
	NegativePromptEnabled bool               `json:"negative_prompt_enabled"`
	Schema                *jsonschema.Schema `json:"schema,omitempty"`
	Values                map[string]any     `json:"values,omitempty"`
}

func (s *Server) stateOf(d *dialog.Session) dialogState {
	snap, err := d.Snapshot()
	if err != nil {
		return dialogState{Index: -1}
	}
	name := snap.Backend.Name()
	return dialogState{
		Backend:               name,
		Index:                 snap.Index,
		NegativePromptEnabled: snap.NegativePromptEnabled,
		Schema:                params.JSONSchema(name, snap.Backend.GenerationParams()),
		Values:                snap.Values,
	}
}

type openDialogRequest struct {
	Backend *int `json:"backend"`
}

func (s *Server) handleOpenDialog(w http.ResponseWriter, r *http.Request) {
	var req openDialogRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, ok := s.sessions.DialogID(w, r, true)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("could not bind dialog session"))
		return
	}
	d, err := dialog.NewSession(s.factories, s.dispatcher, s.cfg.Illustration.CaptionLength, s.log)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.mu.Lock()
	if old, ok := s.dialogs[id]; ok {
		old.Close()
	}
	s.dialogs[id] = d
	s.mu.Unlock()

	if req.Backend != nil {
		if _, _, err := d.Select(r.Context(), *req.Backend); err != nil {
			s.log.Error().Err(err).Msg("could not select backend")
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, s.stateOf(d))
}

func (s *Server) handleCloseDialog(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.sessions.DialogID(w, r, false); ok {
		s.mu.Lock()
		if d, ok := s.dialogs[id]; ok {
			d.Close()
			delete(s.dialogs, id)
		}
		s.mu.Unlock()
	}
	s.sessions.ClearDialog(w, r)
	w.WriteHeader(http.StatusNoContent)
}

type selectBackendRequest struct {
	Index *int   `json:"index"`
	Name  string `json:"name"`
}

func (s *Server) handleSelectBackend(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dialogFor(w, r)
	if !ok {
		writeError(w, http.StatusConflict, errors.New("no open dialog"))
		return
	}
	var req selectBackendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	index := -1
	switch {
	case req.Index != nil:
		index = *req.Index
	case req.Name != "":
		index, _ = d.IndexOf(req.Name)
	}
	if index < 0 || index >= len(d.Names()) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown backend %q", req.Name))
		return
	}
	if _, _, err := d.Select(r.Context(), index); err != nil {
		s.log.Error().Err(err).Int("index", index).Msg("could not select backend")
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stateOf(d))
}

type setParamsRequest struct {
	Values map[string]any `json:"values"`
}

func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dialogFor(w, r)
	if !ok {
		writeError(w, http.StatusConflict, errors.New("no open dialog"))
		return
	}
	var req setParamsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	for label, v := range req.Values {
		if err := d.SetValue(label, v); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, dialog.ErrNoBackend) {
				status = http.StatusConflict
			}
			writeError(w, status, fmt.Errorf("%s: %w", label, err))
			return
		}
	}
	writeJSON(w, http.StatusOK, s.stateOf(d))
}

type confirmRequest struct {
	StartBlock     int    `json:"start_block"`
	EndBlock       int    `json:"end_block"`
	PositivePrompt string `json:"positive_prompt"`
	NegativePrompt string `json:"negative_prompt"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dialogFor(w, r)
	if !ok {
		writeError(w, http.StatusConflict, errors.New("no open dialog"))
		return
	}
	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		sel    document.Selection
		selErr error
	)
	err := s.loop.Call(r.Context(), func() {
		if selErr = s.book.Document.Select(req.StartBlock, req.EndBlock); selErr == nil {
			sel, _ = s.book.Document.CurrentSelection()
		}
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if selErr != nil {
		writeError(w, http.StatusBadRequest, selErr)
		return
	}

	if _, err := d.Confirm(sel, req.PositivePrompt, req.NegativePrompt, s.deliver); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, params.ErrMissingParameter) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "target_block": sel.EndBlock})
}

// deliver runs on the loop.
func (s *Server) deliver(res dispatch.Result) {
	if res.Err != nil {
		metrics.IllustrationsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.notes.Add(LevelError, "Image generation failed: "+userMessage(res.Err), -1)
		return
	}
	ins, err := s.inserter.Insert(res.Illustration)
	switch {
	case err != nil:
		s.log.Error().Err(err).Msg("could not insert illustration")
		s.notes.Add(LevelError, "Could not insert the illustration: "+err.Error(), res.Illustration.TargetBlock)
	case ins.State == document.Dropped:
		s.notes.Add(LevelInfo, "The illustrated passage is gone; the illustration was dropped.", res.Illustration.TargetBlock)
	default:
		s.notes.Add(LevelInfo, "Illustration inserted.", ins.Block)
	}
}

func userMessage(err error) string {
	var te *backends.TransportError
	switch {
	case errors.Is(err, backends.ErrInvalidModel):
		return "the selected model is not available"
	case errors.Is(err, backends.ErrInvalidDimensions):
		return "the chosen width and height are not supported by this model"
	case errors.As(err, &te):
		return te.Error()
	}
	return err.Error()
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	var undone bool
	if err := s.loop.Call(r.Context(), func() { undone = s.book.Document.Undo() }); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"undone": undone})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.notes.Drain())
}
