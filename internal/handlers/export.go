package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/pvmonitor/pvdash/internal/models"
)

// Export handles POST /api/export
// The built query is executed and the wide matrix is returned as a file.
func (h *Handler) Export(c *fiber.Ctx) error {
	var req models.ExportRequest
	if err := h.parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}

	file, err := h.explorer.Export(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}

	c.Set(fiber.HeaderContentType, file.ContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+file.Filename+`"`)
	c.Set("X-Export-Rows", strconv.Itoa(file.Rows))
	c.Set("X-Export-Columns", strconv.Itoa(file.Columns))
	return c.Send(file.Body)
}
