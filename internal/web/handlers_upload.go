package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JonMunkholm/bundlewizard/internal/core"
	"github.com/JonMunkholm/bundlewizard/internal/logging"
)

// multipartOverhead is allowed on top of the file size for form framing.
const multipartOverhead = 1 << 20

// sseHeartbeat keeps idle progress streams open through proxies.
const sseHeartbeat = 15 * time.Second

// handleUpload accepts a PDF and starts its conversion. The response
// carries the conversion id; progress follows on /api/wizard/progress.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := wizardID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize))
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, core.ErrNoFile)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	convID, err := s.service.StartConversion(ctx, id, header.Filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "wizard_id", id, "conversion_id", convID).
		Info("upload accepted", "file", header.Filename, "bytes", len(data))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"conversionId": convID})
}

// handleProgress streams conversion progress via Server-Sent Events.
// The first event is the current state, so a reconnecting client catches
// up without replay. A "complete" event carrying the final state ends the
// stream.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, err := wizardID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	progressCh, err := s.service.SubscribeProgress(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	var last core.ConversionProgress
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				data, _ := json.Marshal(last)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}
			last = progress
			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Current, data)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleCancel cancels the wizard's running conversion.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.action(func(_ *http.Request, id string) error {
		return s.service.CancelConversion(id)
	})(w, r)
}
