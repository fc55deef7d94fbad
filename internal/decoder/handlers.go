package decoder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/bill-decoder/internal/bill"
)

// maxUploadSize bounds multipart uploads; phone photos of bills can be large
const maxUploadSize = int64(50 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON body with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handleListDecodes returns all decode records
func (s *Server) handleListDecodes(w http.ResponseWriter, r *http.Request) {
	decodes, err := s.service.ListDecodes()
	if err != nil {
		slog.Error("Error listing decodes", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if decodes == nil {
		decodes = []*Decode{}
	}
	writeJSON(w, http.StatusOK, decodes)
}

// handleUploadBill decodes an uploaded bill
func (s *Server) handleUploadBill(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		writeJSONError(w, http.StatusBadRequest, errorMsg)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeJSONError(w, http.StatusBadRequest, "No file was selected. Please choose a bill to upload.")
		return
	}
	defer f.Close()

	if header.Filename == "" {
		writeJSONError(w, http.StatusBadRequest, "Empty filename")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromExt(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	decode, err := s.service.Decode(ctx, header.Filename, data, contentType)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, decode)
	case errors.Is(err, bill.ErrIncompleteData) && decode != nil:
		// fields and verdict are still useful to the caller
		writeJSON(w, http.StatusUnprocessableEntity, decode)
	case errors.Is(err, bill.ErrUnreadableDocument):
		writeJSONError(w, http.StatusUnprocessableEntity, "Could not extract text from file")
	case errors.Is(err, context.DeadlineExceeded):
		slog.Error("Timed out decoding bill", "filename", header.Filename, "error", err)
		writeJSONError(w, http.StatusGatewayTimeout, "Timed out reading the bill. Please try again.")
	default:
		slog.Error("Error decoding bill", "filename", header.Filename, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Error decoding bill")
	}
}

func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return bill.MediaTypePDF
	case ".jpg", ".jpeg":
		return bill.MediaTypeJPEG
	case ".png":
		return bill.MediaTypePNG
	case ".gif":
		return bill.MediaTypeGIF
	case ".heic":
		return bill.MediaTypeHEIC
	case ".heif":
		return bill.MediaTypeHEIF
	default:
		return "application/octet-stream"
	}
}

// handleGetDecode returns a single decode record
func (s *Server) handleGetDecode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Bill ID required", http.StatusBadRequest)
		return
	}
	decode, err := s.service.GetDecode(id)
	if err != nil {
		corsError(w, "Bill not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, decode)
}

// handleGetDecodeFile returns the uploaded file for a decode record
func (s *Server) handleGetDecodeFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Bill ID required", http.StatusBadRequest)
		return
	}
	data, contentType, err := s.service.GetDecodeFile(id)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteDecode deletes a decode record
func (s *Server) handleDeleteDecode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Bill ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteDecode(id); err != nil {
		corsError(w, "Error deleting bill", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
