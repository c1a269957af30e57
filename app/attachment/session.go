package attachment

import (
	"errors"
	"fmt"
	"net/http"

	"bitwise74/attachment-api/internal"
	"bitwise74/attachment-api/internal/model"
	"bitwise74/attachment-api/internal/service"
	"bitwise74/attachment-api/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createSessionBody struct {
	ContextType     string  `json:"contextType" binding:"required"`
	TargetContextID *string `json:"targetContextId" binding:"omitempty,min=1,max=128"`
}

type finalizeBody struct {
	ContextID  string   `json:"contextId" binding:"required,max=128"`
	OrderedIDs []string `json:"orderedIds" binding:"max=500,dive,required,max=64"`
}

func SessionCreate(c *gin.Context, d *internal.Deps) {
	var body createSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, "Malformed or invalid JSON request body")
		return
	}

	t, ok := model.ParseContextType(body.ContextType)
	if !ok {
		abortWithError(c, fmt.Errorf("%w: %s", service.ErrUnsupportedContext, body.ContextType), "Failed to create session")
		return
	}

	s, err := d.Store.CreateSession(c.Request.Context(), middleware.Caller(c), t, body.TargetContextID)
	if err != nil {
		abortWithError(c, err, "Failed to create session")
		return
	}

	c.JSON(http.StatusCreated, s)
}

func SessionDiscard(c *gin.Context, d *internal.Deps) {
	err := d.Store.DiscardSession(c.Request.Context(), middleware.Caller(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err, "Failed to discard session")
		return
	}

	c.Status(http.StatusNoContent)
}

func SessionFiles(c *gin.Context, d *internal.Deps) {
	list, err := d.Store.ListSession(c.Request.Context(), middleware.Caller(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err, "Failed to list session files")
		return
	}

	c.JSON(http.StatusOK, list)
}

// SessionUpload stores the multipart "file" field in the session
func SessionUpload(c *gin.Context, d *internal.Deps) {
	requestID := c.GetString("requestID")

	fh, err := c.FormFile("file")
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			abortWithError(c, err, "Upload too large")
			return
		}

		if errors.Is(err, http.ErrMissingFile) {
			abortBadRequest(c, "No file provided")
			return
		}

		abortBadRequest(c, "Invalid multipart form")
		zap.L().Debug("Failed to parse multipart form", zap.Error(err), zap.String("request_id", requestID))
		return
	}

	f, err := fh.Open()
	if err != nil {
		abortWithError(c, err, "Failed to open multipart file")
		return
	}
	defer f.Close()

	a, err := d.Store.Upload(c.Request.Context(), middleware.Caller(c), c.Param("id"), service.UploadInput{
		Filename: fh.Filename,
		Size:     fh.Size,
		Body:     f,
	})
	if err != nil {
		abortWithError(c, err, "Failed to store upload")
		return
	}

	c.JSON(http.StatusCreated, a)
}

func SessionFinalize(c *gin.Context, d *internal.Deps) {
	var body finalizeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, "Malformed or invalid JSON request body")
		return
	}

	list, err := d.Store.Finalize(c.Request.Context(), middleware.Caller(c), c.Param("id"), body.ContextID, body.OrderedIDs)
	if err != nil {
		abortWithError(c, err, "Failed to finalize session")
		return
	}

	c.JSON(http.StatusOK, list)
}
