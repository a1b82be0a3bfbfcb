package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bundlewizard/internal/document"
)

type cellEdit struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Value string `json:"value"`
}

type rawText struct {
	Text string `json:"text"`
}

func (s *Server) handleEditCell(w http.ResponseWriter, r *http.Request) {
	s.action(func(r *http.Request, id string) error {
		var req cellEdit
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		return s.service.EditCell(id, req.Row, req.Field, req.Value)
	})(w, r)
}

func (s *Server) handleAddRow(w http.ResponseWriter, r *http.Request) {
	s.action(func(_ *http.Request, id string) error {
		return s.service.AddRow(id)
	})(w, r)
}

func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	s.action(func(r *http.Request, id string) error {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			return fmt.Errorf("%w: row index must be a number", errBadRequest)
		}
		return s.service.DeleteRow(id, index)
	})(w, r)
}

func (s *Server) handleUndoDelete(w http.ResponseWriter, r *http.Request) {
	s.action(func(_ *http.Request, id string) error {
		return s.service.UndoDelete(id)
	})(w, r)
}

func (s *Server) handleBeginRaw(w http.ResponseWriter, r *http.Request) {
	s.action(func(_ *http.Request, id string) error {
		return s.service.BeginRawEdit(id)
	})(w, r)
}

func (s *Server) handleUpdateRaw(w http.ResponseWriter, r *http.Request) {
	s.action(func(r *http.Request, id string) error {
		var req rawText
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		return s.service.UpdateRaw(id, req.Text)
	})(w, r)
}

// handleSaveRaw commits the editor text. Invalid JSON answers 409 with the
// parser message in the error detail and leaves the editor open.
func (s *Server) handleSaveRaw(w http.ResponseWriter, r *http.Request) {
	s.action(func(r *http.Request, id string) error {
		return s.service.SaveRaw(WithRequestMetadata(r.Context(), r), id)
	})(w, r)
}

func (s *Server) handleCancelRaw(w http.ResponseWriter, r *http.Request) {
	s.action(func(_ *http.Request, id string) error {
		return s.service.CancelRawEdit(id)
	})(w, r)
}

// handleReplaceDocument installs a whole document from the JSON console.
// The body is the document itself.
func (s *Server) handleReplaceDocument(w http.ResponseWriter, r *http.Request) {
	s.action(func(r *http.Request, id string) error {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize))
		if err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
		doc, err := document.Parse(body)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return s.service.ReplaceDocument(WithRequestMetadata(r.Context(), r), id, doc)
	})(w, r)
}

func (s *Server) handleProceed(w http.ResponseWriter, r *http.Request) {
	s.action(func(r *http.Request, id string) error {
		return s.service.ProceedToValidate(WithRequestMetadata(r.Context(), r), id)
	})(w, r)
}
