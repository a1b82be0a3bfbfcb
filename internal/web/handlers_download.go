package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/bundlewizard/internal/core"
)

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, s.service.Download)
}

func (s *Server) handleDownloadExcel(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, s.service.ExportExcel)
}

// serveArtifact writes a generated file as an attachment.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, build func(context.Context, string) (core.Artifact, error)) {
	id, err := wizardID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	art, err := build(WithRequestMetadata(r.Context(), r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, art.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.Write(art.Data)
}
