package receipt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-parser/internal/extract"
	"github.com/zombor/receipt-parser/internal/inference"
	"github.com/zombor/receipt-parser/internal/ocr"
	"github.com/zombor/receipt-parser/internal/queue"
)

// maxUploadSize bounds request bodies (50MB to handle high-resolution phone photos)
const maxUploadSize = int64(50 << 20)

const tooLargeMessage = "File is too large. Maximum size is 50MB. Please compress or resize your image."

// imageRequest is the JSON body accepted by /prompt and /api/jobs
type imageRequest struct {
	Image string `json:"image"` // base64 encoded image bytes
}

// corsError writes a plain text error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes a JSON error response with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// statusForError maps pipeline and service errors to HTTP status codes
func statusForError(err error) int {
	var invalid *ocr.InvalidImageError
	var extraction *extract.ExtractionError
	var inferenceErr *inference.InferenceError

	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &extraction):
		return http.StatusBadGateway
	case errors.As(err, &inferenceErr):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrScanNotFound), errors.Is(err, queue.ErrJobNotFound), errors.Is(err, ErrNoArchive):
		return http.StatusNotFound
	case errors.Is(err, ErrJobsDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// decodeImageRequest reads a {"image": "<base64>"} body
func decodeImageRequest(w http.ResponseWriter, r *http.Request) ([]byte, int, string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, http.StatusRequestEntityTooLarge, tooLargeMessage
		}
		return nil, http.StatusBadRequest, "Invalid request body"
	}

	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return nil, http.StatusBadRequest, "Image must be base64 encoded"
	}
	return data, http.StatusOK, ""
}

// handlePrompt parses a base64 image and returns the structured receipt text
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	data, status, message := decodeImageRequest(w, r)
	if status != http.StatusOK {
		corsError(w, message, status)
		return
	}

	receipt, err := s.service.Prompt(r.Context(), data)
	if err != nil {
		corsError(w, err.Error(), statusForError(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, receipt)
}

// handleListScans returns a list of all scans
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.service.ListScans()
	if err != nil {
		slog.Error("Error listing scans", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if scans == nil {
		scans = []*Scan{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(scans); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleUploadScan handles a multipart receipt upload
func (s *Server) handleUploadScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			jsonError(w, tooLargeMessage, http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromExt(header.Filename)
	}

	scan, err := s.service.ProcessScan(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing scan", "filename", header.Filename, "error", err)
		jsonError(w, err.Error(), statusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(scan); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// contentTypeFromExt guesses a MIME type from the upload's file extension
func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleGetScan returns a single scan
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		jsonError(w, "Scan ID required", http.StatusBadRequest)
		return
	}
	scan, err := s.service.GetScan(id)
	if err != nil {
		jsonError(w, "Scan not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(scan); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleGetScanFile returns the archived upload for a scan
func (s *Server) handleGetScanFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		jsonError(w, "Scan ID required", http.StatusBadRequest)
		return
	}
	data, contentType, err := s.service.GetScanFile(r.Context(), id)
	if err != nil {
		jsonError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteScan deletes a scan
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		jsonError(w, "Scan ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteScan(r.Context(), id); err != nil {
		status := statusForError(err)
		if status == http.StatusNotFound {
			jsonError(w, "Scan not found", status)
			return
		}
		jsonError(w, "Error deleting scan", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleCreateJob enqueues a base64 image for asynchronous parsing
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	data, status, message := decodeImageRequest(w, r)
	if status != http.StatusOK {
		jsonError(w, message, status)
		return
	}

	id, err := s.service.EnqueueScan(r.Context(), data)
	if err != nil {
		slog.Error("Error enqueueing scan", "error", err)
		jsonError(w, err.Error(), statusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/api/jobs/"+id)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"id": id,
	})
}

// handleGetJob returns the state of an asynchronous scan
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		jsonError(w, "Job ID required", http.StatusBadRequest)
		return
	}

	job, err := s.service.JobStatus(r.Context(), id)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			slog.Error("Error getting job status", "id", id, "error", err)
		}
		jsonError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(job); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleHealth reports the running configuration
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := struct {
		Status string `json:"status"`
		Info
		Jobs bool `json:"jobs"`
	}{
		Status: "ok",
		Info:   s.info,
		Jobs:   s.service.JobsAvailable(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}
