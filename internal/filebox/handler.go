package filebox

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/startdusk/filebox/internal/logger"
	"github.com/startdusk/filebox/internal/middleware"
)

// maxMemory is the multipart budget kept in memory before spilling to disk.
const maxMemory = 32 << 20

// CreateResponse is returned by POST /v1/filebox.
type CreateResponse struct {
	ID        int64    `json:"id"`
	Code      string   `json:"code"`
	Name      string   `json:"name"`
	FileType  FileType `json:"file_type"`
	CreatedAt int64    `json:"created_at"`
	ExpiredAt int64    `json:"expired_at"`
}

// GetResponse is returned by GET /v1/filebox/{code}.
type GetResponse struct {
	CreateResponse
	Size   int64  `json:"size"`
	UsedAt *int64 `json:"used_at"`
}

// TakeTextResponse is returned by POST /v1/filebox/{code} for text boxes.
type TakeTextResponse struct {
	CreateResponse
	Text   string `json:"text"`
	UsedAt int64  `json:"used_at"`
}

func newCreateResponse(b *Box) CreateResponse {
	return CreateResponse{
		ID:        b.ID,
		Code:      b.Code,
		Name:      b.Name,
		FileType:  b.FileType,
		CreatedAt: b.CreatedAt.Unix(),
		ExpiredAt: b.ExpiresAt.Unix(),
	}
}

// Handler serves the box HTTP API.
type Handler struct {
	svc *Service
}

// NewHandler creates a handler over svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the API on r. guard wraps the code lookup routes and
// upload wraps box creation; either may be nil.
func (h *Handler) Routes(r chi.Router, guard, upload func(http.Handler) http.Handler) {
	wrap := func(mw func(http.Handler) http.Handler, fn http.HandlerFunc) http.Handler {
		if mw == nil {
			return fn
		}
		return mw(fn)
	}

	r.Method(http.MethodPost, "/v1/filebox", wrap(upload, h.Create))
	r.Method(http.MethodGet, "/v1/filebox/{code}", wrap(guard, h.Get))
	r.Method(http.MethodPost, "/v1/filebox/{code}", wrap(guard, h.Take))
}

// Create handles a multipart box submission.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if !errors.As(err, &maxBytesErr) {
			err = &ValidationError{Field: "form", Reason: "malformed multipart form"}
		}
		h.writeError(w, r, err)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	req := CreateRequest{
		Name: r.FormValue("name"),
		Text: r.FormValue("text"),
	}

	days, err := strconv.Atoi(r.FormValue("duration_day"))
	if err != nil {
		h.writeError(w, r, &ValidationError{Field: "duration_day", Reason: "not a number"})
		return
	}
	req.DurationDays = days

	ft, err := strconv.Atoi(r.FormValue("file_type"))
	if err != nil || !FileType(ft).Valid() {
		h.writeError(w, r, &ValidationError{Field: "file_type", Reason: "must be 1 (file) or 2 (text)"})
		return
	}
	req.FileType = FileType(ft)

	if req.FileType == FileTypeFile {
		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			h.writeError(w, r, &ValidationError{Field: "file", Reason: "unreadable upload"})
			return
		default:
			defer file.Close()
			req.File = file
			req.FileName = header.Filename
		}
	}

	b, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_ = middleware.WriteJSONStatus(w, http.StatusOK, newCreateResponse(b))
}

// Get returns box metadata.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := GetResponse{CreateResponse: newCreateResponse(b), Size: b.Size}
	if b.UsedAt != nil {
		usedAt := b.UsedAt.Unix()
		resp.UsedAt = &usedAt
	}
	_ = middleware.WriteJSONStatus(w, http.StatusOK, resp)
}

// Take retrieves a box once: text as JSON, files as an attachment. Files are
// always sent whole with 200; Range and conditional headers are ignored.
func (h *Handler) Take(w http.ResponseWriter, r *http.Request) {
	b, f, err := h.svc.Pickup(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if b.FileType == FileTypeText {
		_ = middleware.WriteJSONStatus(w, http.StatusOK, TakeTextResponse{
			CreateResponse: newCreateResponse(b),
			Text:           b.Text,
			UsedAt:         b.UsedAt.Unix(),
		})
		return
	}
	defer f.Close()

	name := filepath.Base(b.FilePath)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		logger.FromContext(r.Context(), "filebox.handler").Warn("file delivery interrupted", logger.Fields{
			"path":  r.URL.Path,
			"error": err,
		})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *ValidationError
		maxBytesErr   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &validationErr):
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_input", validationErr.Error())
	case errors.Is(err, ErrInvalidCode):
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid_code", "invalid code")
	case errors.Is(err, ErrNotFound):
		middleware.WriteError(w, r, http.StatusNotFound, "not_found", "not found")
	case errors.As(err, &maxBytesErr):
		middleware.WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
	default:
		logger.FromContext(r.Context(), "filebox.handler").Error("request failed", logger.Fields{
			"path":  r.URL.Path,
			"error": err,
		})
		middleware.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
