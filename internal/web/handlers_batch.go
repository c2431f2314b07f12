package web

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/tracker/internal/core"
	"github.com/JonMunkholm/tracker/internal/logging"
	"github.com/JonMunkholm/tracker/internal/source"
)

// multipartSlack covers boundaries and part headers on top of the file itself.
const multipartSlack = 1 << 20

// batchResponse is returned for every batch run that reached the pipeline.
// Error is set when the run failed; the report is still filled in as far as
// the run got.
type batchResponse struct {
	Report core.RunReport `json:"report"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

// handleBatch runs one batch extract posted either as the raw request body
// (text/csv) or as the "file" field of a multipart form. The body is
// streamed into the CSV reader, never buffered whole.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Batch.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartSlack)

	name, body, err := batchBody(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	defer s.limiter.Release()

	ctx := logging.NewContext(r.Context(), logging.WithFields(r.Context(), "upload", name))
	report, err := s.batch.Run(ctx, source.NewReaderSource(name, body, maxSize))
	if err != nil {
		logging.FromContext(ctx).Error("batch run over http failed",
			"run_id", report.RunID,
			"phase", report.Phase,
			"error", err,
		)
		resp := newErrorResponse(err)
		writeJSON(w, r, statusFor(err), batchResponse{Report: report, Error: &resp})
		return
	}

	writeJSON(w, r, http.StatusOK, batchResponse{Report: report})
}

// batchBody locates the CSV payload and a display name for it.
func batchBody(r *http.Request) (string, io.Reader, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	if mediaType != "multipart/form-data" {
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "request.csv"
		}
		return filepath.Base(name), r.Body, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, errors.New("invalid multipart form")
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil, errors.New("no file provided")
		}
		if err != nil {
			return "", nil, errors.New("invalid multipart form")
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		return partName(part), part, nil
	}
}

func partName(p *multipart.Part) string {
	name := strings.TrimSpace(p.FileName())
	if name == "" {
		return "upload.csv"
	}
	return filepath.Base(name)
}
