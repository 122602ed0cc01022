package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/realtime"
	"github.com/gin-gonic/gin"
)

const (
	uploadEventField  = "eventId"
	uploadFileField   = "file"
	mediaCacheControl = "public, max-age=31536000, immutable"
)

// uploadMedia accepts multipart/form-data with an eventId field and a file part.
func (h *httpHandler) uploadMedia(c *gin.Context) (any, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	if err := c.Request.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, invalidRequest("upload exceeds %d bytes", h.maxUploadBytes)
		}
		return nil, invalidRequest("expected a multipart form: %v", err)
	}
	eventID := strings.TrimSpace(c.PostForm(uploadEventField))
	if eventID == "" {
		return nil, invalidRequest("%s is required", uploadEventField)
	}
	header, err := c.FormFile(uploadFileField)
	if err != nil {
		return nil, invalidRequest("%s is required", uploadFileField)
	}
	file, err := header.Open()
	if err != nil {
		return nil, invalidRequest("unreadable upload: %v", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, invalidRequest("unreadable upload: %v", err)
	}

	media, err := h.graph.AttachMedia(c.Request.Context(), eventID, graph.MediaUpload{
		Data:     data,
		MimeType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		return nil, err
	}
	h.publish(realtime.EventMediaAttached, nil, []string{eventID}, []string{media.ID})
	return media, nil
}

func (h *httpHandler) handleMedia(c *gin.Context) {
	media, err := h.graph.GetMedia(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "media.get", err)
		return
	}
	c.Header("Cache-Control", mediaCacheControl)
	c.Header("Content-Length", strconv.Itoa(len(media.Data)))
	c.Data(http.StatusOK, media.MimeType, media.Data)
}
