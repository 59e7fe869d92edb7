package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/cuongbtq/transcode-pipeline/internal/admission"
	"github.com/cuongbtq/transcode-pipeline/internal/api/dto"
	"github.com/cuongbtq/transcode-pipeline/internal/auth"
	"github.com/cuongbtq/transcode-pipeline/internal/blobstore"
	"github.com/gin-gonic/gin"
)

const ContentTypeMP3 = "audio/mpeg"

const contentTypeOctetStream = "application/octet-stream"

// MediaHandler handles upload and download of media blobs
type MediaHandler struct {
	logger         *slog.Logger
	gate           TokenGate
	admission      Admitter
	blobs          BlobReader
	maxUploadBytes int64
}

// NewMediaHandler creates a new MediaHandler instance
func NewMediaHandler(deps *Dependencies) *MediaHandler {
	return &MediaHandler{
		logger:         deps.Logger,
		gate:           deps.Gate,
		admission:      deps.Admission,
		blobs:          deps.Blobs,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// Upload hands a multipart request to the admission service. The bearer is
// checked before the body is read; the service checks it again before writing.
func (h *MediaHandler) Upload(c *gin.Context) {
	bearer, _ := auth.BearerToken(c.GetHeader("Authorization"))
	if status, message, ok := h.precheck(bearer); !ok {
		c.JSON(status, dto.ErrorResponse{Error: message})
		return
	}

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	var files []admission.Upload
	form, err := c.MultipartForm()
	if err == nil {
		files, err = readUploads(form)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "upload too large"})
			return
		}
		// an unreadable body counts as zero files
		files = nil
	}

	accepted, err := h.admission.Admit(c.Request.Context(), bearer, files)
	if err != nil {
		status, message := admissionStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Upload failed", slog.Any("error", err))
		}
		c.JSON(status, dto.ErrorResponse{Error: message})
		return
	}

	c.JSON(http.StatusAccepted, dto.UploadResponse{
		JobID:    accepted.JobID,
		VideoFID: accepted.SourceBlobID,
		Message:  "Upload accepted for transcoding",
	})
}

// precheck rejects callers the admission service would reject anyway,
// before any of the body is buffered
func (h *MediaHandler) precheck(bearer string) (int, string, bool) {
	if bearer == "" {
		return http.StatusUnauthorized, "invalid or expired token", false
	}
	claim, err := h.gate.Verify(bearer)
	if err != nil {
		return http.StatusUnauthorized, "invalid or expired token", false
	}
	if !claim.IsAdmin {
		return http.StatusForbidden, "Unauthorized", false
	}
	return 0, "", true
}

// Download returns a stored blob with the content type it was stored under
func (h *MediaHandler) Download(c *gin.Context) {
	fid := c.Query("fid")
	if fid == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "fid is required"})
		return
	}

	ctx := c.Request.Context()
	info, err := h.blobs.Stat(ctx, fid)
	var data []byte
	if err == nil {
		data, err = h.blobs.Get(ctx, fid)
	}
	if errors.Is(err, blobstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "file not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read blob",
			slog.String("fid", fid),
			slog.Any("error", err),
		)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "storage unavailable"})
		return
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = contentTypeOctetStream
	}
	filename := fid
	if contentType == ContentTypeMP3 {
		filename += ".mp3"
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, contentType, data)
}

// readUploads counts every file part of the form, whatever its field name
func readUploads(form *multipart.Form) ([]admission.Upload, error) {
	var uploads []admission.Upload
	for _, headers := range form.File {
		for _, fh := range headers {
			data, err := readPart(fh)
			if err != nil {
				return nil, err
			}
			uploads = append(uploads, admission.Upload{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return uploads, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}
	return data, nil
}

func admissionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, admission.ErrUnauthenticated):
		return http.StatusUnauthorized, "invalid or expired token"
	case errors.Is(err, admission.ErrForbidden):
		return http.StatusForbidden, "Unauthorized"
	case errors.Is(err, admission.ErrBadRequest):
		return http.StatusBadRequest, "Only one file is allowed"
	case errors.Is(err, admission.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage unavailable"
	case errors.Is(err, admission.ErrQueueUnavailable):
		return http.StatusServiceUnavailable, "queue unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
