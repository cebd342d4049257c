package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/swaggo/swag"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

const readyCheckTimeout = 3 * time.Second

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// UploadResponse is returned once an upload is queued
// @Description Accepted upload
type UploadResponse struct {
	Message string               `json:"message" example:"uploaded"`
	Job     *domain.IngestionJob `json:"job"`
}

// ReadyResponse lists the state of each dependency
// @Description Readiness report
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleLegacyRoot answers liveness checks at /
func (s *Server) handleLegacyRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "All Good!"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Checks the queue, vector index and AI providers
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Tags         Health
// @Produce      json
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// handleSwaggerDoc serves the registered OpenAPI document
func (s *Server) handleSwaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusNotFound, "api documentation not available")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

// Upload endpoints

// uploadHandler godoc
// @Summary      Upload a document
// @Description  Stores the file and queues it for ingestion. Processing happens asynchronously.
// @Tags         Ingestion
// @Accept       multipart/form-data
// @Produce      json
// @Param        file  formData  file  true  "Document (.pdf, .docx, .xlsx, .pptx, .md, .txt)"
// @Success      202   {object}  UploadResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      413   {object}  ErrorResponse
// @Failure      415   {object}  ErrorResponse
// @Router       /upload [post]
func (s *Server) uploadHandler(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

		file, header, err := r.FormFile(field)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "file too large")
				return
			}
			writeError(w, http.StatusBadRequest, fmt.Sprintf("multipart field %q is required", field))
			return
		}
		defer file.Close()

		name := cleanFilename(header.Filename)
		if name == "" {
			writeError(w, http.StatusBadRequest, "file name is required")
			return
		}

		path, err := s.storeUpload(file, name)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "file too large")
				return
			}
			s.logger.Error("failed to store upload", "name", name, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store upload")
			return
		}

		job, err := s.ingestion.Submit(r.Context(), path, name)
		if err != nil {
			_ = os.Remove(path)
			s.writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, UploadResponse{Message: "uploaded", Job: job})
	}
}

// storeUpload copies the upload to <unix-nanos>-<random>-<name> under the upload dir
func (s *Server) storeUpload(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", err
	}
	stored := fmt.Sprintf("%d-%d-%s", time.Now().UnixNano(), rand.Int64N(1e9), name)
	path := filepath.Join(s.uploadDir, stored)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// cleanFilename keeps the base name a client sent, without directories
func cleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// handleFormats godoc
// @Summary      Supported formats
// @Tags         Ingestion
// @Produce      json
// @Router       /formats [get]
func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"extensions": s.ingestion.SupportedExtensions()})
}

// Chat endpoints

// handleChat godoc
// @Summary      Ask a question
// @Description  Retrieves the closest chunks and answers the question from them
// @Tags         Chat
// @Produce      json
// @Param        message  query     string  true   "Question"
// @Param        k        query     int     false  "Number of documents to retrieve"
// @Success      200      {object}  domain.Answer
// @Failure      400      {object}  ErrorResponse
// @Failure      503      {object}  ErrorResponse  "Embedding or generation provider unavailable"
// @Router       /chat [get]
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	message := strings.TrimSpace(query.Get("message"))
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	var opts domain.AnswerOptions
	if raw := query.Get("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k <= 0 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		opts.TopK = k
	}

	answer, err := s.chat.Answer(r.Context(), message, opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// Job endpoints

// handleListJobs godoc
// @Summary      List ingestion jobs
// @Tags         Jobs
// @Produce      json
// @Param        status  query  string  false  "pending, processing, completed or failed"
// @Param        limit   query  int     false  "Page size (default 50)"
// @Param        offset  query  int     false  "Jobs to skip"
// @Success      200     {object}  map[string][]domain.IngestionJob
// @Router       /jobs [get]
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter driven.JobFilter

	switch status := domain.JobStatus(query.Get("status")); status {
	case "", domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
		filter.Status = status
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}

	var err error
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	jobs, err := s.ingestion.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.IngestionJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleGetJob godoc
// @Summary      Get an ingestion job
// @Tags         Jobs
// @Produce      json
// @Param        id   path      string  true  "Job ID"
// @Success      200  {object}  domain.IngestionJob
// @Failure      404  {object}  ErrorResponse
// @Router       /jobs/{id} [get]
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.ingestion.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handlePurgeJobs godoc
// @Summary      Purge finished jobs
// @Description  Removes completed and failed jobs older than the retention period
// @Tags         Jobs
// @Produce      json
// @Router       /jobs/purge [post]
func (s *Server) handlePurgeJobs(w http.ResponseWriter, r *http.Request) {
	n, err := s.ingestion.PurgeJobs(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

// handleQueueStats godoc
// @Summary      Queue statistics
// @Tags         Jobs
// @Produce      json
// @Success      200  {object}  driven.QueueStats
// @Router       /queue/stats [get]
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ingestion.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Helper functions

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEmbeddingUnavailable),
		errors.Is(err, domain.ErrGenerationUnavailable),
		errors.Is(err, domain.ErrIndexUnavailable),
		errors.Is(err, domain.ErrQueueUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
