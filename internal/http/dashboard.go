package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"parking-service/internal/report"
	"parking-service/internal/service"
)

const streamKeepAlive = 15 * time.Second

func (h *Handler) getDashboard(c *gin.Context) {
	board, err := h.parkingService.Dashboard(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(board))
}

// streamDashboard отдаёт панель через SSE: сначала текущее состояние,
// затем обновлённую панель после каждого решения или изменения реестра.
func (h *Handler) streamDashboard(c *gin.Context) {
	ctx := c.Request.Context()

	board, err := h.parkingService.Dashboard(ctx)
	if err != nil {
		h.handleError(c, err)
		return
	}

	updates, cancel := h.hub.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("dashboard", board)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().UTC())
			return true
		case update, ok := <-updates:
			if !ok {
				return false
			}
			if update.Decision != nil {
				c.SSEvent("decision", update.Decision)
			}
			board, err := h.parkingService.Dashboard(ctx)
			if err != nil {
				h.log.Warn().Err(err).Msg("failed to refresh dashboard for stream")
				return ctx.Err() == nil
			}
			c.SSEvent("dashboard", board)
			return true
		}
	})
}

func (h *Handler) exportEvents(c *gin.Context) {
	query := service.EventQuery{
		Plate:    optionalQuery(c, "plate"),
		Decision: optionalQuery(c, "decision"),
		From:     optionalQuery(c, "from"),
		To:       optionalQuery(c, "to"),
		Limit:    100,
	}

	events, err := h.parkingService.FindEvents(c.Request.Context(), query)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteEventsXLSX(&buf, events); err != nil {
		h.handleError(c, err)
		return
	}
	h.sendWorkbook(c, "events", buf.Bytes())
}

func (h *Handler) exportSlots(c *gin.Context) {
	board, err := h.parkingService.Dashboard(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteSlotsXLSX(&buf, board.Slots); err != nil {
		h.handleError(c, err)
		return
	}
	h.sendWorkbook(c, "slots", buf.Bytes())
}

func (h *Handler) sendWorkbook(c *gin.Context, name string, data []byte) {
	filename := fmt.Sprintf("%s_%s.xlsx", name, time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, report.ContentType, data)
}
