package attachment

import (
	"fmt"
	"net/http"
	"strconv"

	"bitwise74/attachment-api/internal"
	"bitwise74/attachment-api/internal/model"
	"bitwise74/attachment-api/internal/service"
	"bitwise74/attachment-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type reorderBody struct {
	ContextType string   `json:"contextType" binding:"required"`
	ContextID   string   `json:"contextId" binding:"required,max=128"`
	OrderedIDs  []string `json:"orderedIds" binding:"max=500,dive,required,max=64"`
}

func ContextList(c *gin.Context, d *internal.Deps) {
	contextID := c.Query("contextId")
	if contextID == "" {
		abortBadRequest(c, "No context ID provided")
		return
	}

	t, ok := model.ParseContextType(c.Query("contextType"))
	if !ok {
		abortWithError(c, fmt.Errorf("%w: %q", service.ErrUnsupportedContext, c.Query("contextType")), "Failed to list attachments")
		return
	}

	list, err := d.Store.ListByContext(c.Request.Context(), middleware.Caller(c), t, contextID)
	if err != nil {
		abortWithError(c, err, "Failed to list attachments")
		return
	}

	c.JSON(http.StatusOK, list)
}

func Reorder(c *gin.Context, d *internal.Deps) {
	var body reorderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, "Malformed or invalid JSON request body")
		return
	}

	t, ok := model.ParseContextType(body.ContextType)
	if !ok {
		abortWithError(c, fmt.Errorf("%w: %q", service.ErrUnsupportedContext, body.ContextType), "Failed to reorder attachments")
		return
	}

	err := d.Store.Reorder(c.Request.Context(), middleware.Caller(c), t, body.ContextID, body.OrderedIDs)
	if err != nil {
		abortWithError(c, err, "Failed to reorder attachments")
		return
	}

	c.Status(http.StatusNoContent)
}

func Meta(c *gin.Context, d *internal.Deps) {
	a, err := d.Store.Read(c.Request.Context(), middleware.Caller(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err, "Failed to load attachment")
		return
	}

	c.JSON(http.StatusOK, a)
}

// Download serves the original file. Range requests are supported.
func Download(c *gin.Context, d *internal.Deps) {
	dl, err := d.Store.Open(c.Request.Context(), middleware.Caller(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err, "Failed to open attachment")
		return
	}
	defer dl.File.Close()

	inline, _ := strconv.ParseBool(c.Query("inline"))
	serve(c, dl, inline, dl.Attachment.OriginalFilename)
}

// Thumbnail serves the preview, or the original image when no preview exists
func Thumbnail(c *gin.Context, d *internal.Deps) {
	dl, err := d.Store.OpenThumbnail(c.Request.Context(), middleware.Caller(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err, "Failed to open thumbnail")
		return
	}
	defer dl.File.Close()

	c.Header("Cache-Control", "private, max-age=3600")
	serve(c, dl, true, "")
}

func Delete(c *gin.Context, d *internal.Deps) {
	if err := d.Store.Delete(c.Request.Context(), middleware.Caller(c), c.Param("id")); err != nil {
		abortWithError(c, err, "Failed to delete attachment")
		return
	}

	c.Status(http.StatusNoContent)
}

func serve(c *gin.Context, dl *service.Download, inline bool, filename string) {
	c.Header("Content-Type", dl.ContentType)
	c.Header("Content-Disposition", contentDisposition(inline, dl.ContentType, filename))
	c.Header("X-Content-Type-Options", "nosniff")

	http.ServeContent(c.Writer, c.Request, "", dl.ModTime, dl.File)
}
