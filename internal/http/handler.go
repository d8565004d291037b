package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/http/middleware"
	"parking-service/internal/notify"
	"parking-service/internal/service"
	"parking-service/internal/storage"
)

// SnapshotUploader stores camera pictures attached to plate reads.
type SnapshotUploader interface {
	UploadSnapshot(ctx context.Context, plate string, at time.Time, body io.Reader, size int64, contentType string) (string, error)
}

type Handler struct {
	parkingService *service.ParkingService
	hub            *notify.Hub
	snapshots      SnapshotUploader
	config         *config.Config
	log            zerolog.Logger
}

func NewHandler(
	parkingService *service.ParkingService,
	hub *notify.Hub,
	cfg *config.Config,
	log zerolog.Logger,
	r2Client *storage.R2Client,
) *Handler {
	h := &Handler{
		parkingService: parkingService,
		hub:            hub,
		config:         cfg,
		log:            log,
	}
	if r2Client != nil {
		h.snapshots = r2Client
	}
	return h
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/plates/reads", h.createPlateRead)
		public.POST("/anpr/hikvision", h.createHikvisionEvent)
		public.GET("/anpr/hikvision", h.checkHikvisionEndpoint) // Для проверки доступности камерой
		public.GET("/dashboard", h.getDashboard)
		public.GET("/dashboard/stream", h.streamDashboard)
		public.GET("/slots", h.listSlots)
		public.GET("/vehicles", h.listVehicles)
		public.GET("/vehicles/:plate", h.getVehicle)
		public.GET("/events", h.listEvents)
		public.GET("/camera/status", h.checkCameraStatus)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/reports/events.xlsx", h.exportEvents)
		protected.GET("/reports/slots.xlsx", h.exportSlots)

		registry := protected.Group("")
		registry.Use(middleware.RequireRegistryAccess())
		registry.POST("/vehicles", h.registerVehicle)
		registry.DELETE("/vehicles/:plate", h.deleteVehicle)
		registry.POST("/slots/:slot/release", h.releaseSlot)
		registry.POST("/events/cleanup", h.cleanupEvents)
	}
}

type plateReadRequest struct {
	CameraID    string                 `json:"camera_id"`
	Source      string                 `json:"source"`
	Plate       string                 `json:"plate" binding:"required"`
	Confidence  float64                `json:"confidence"`
	Direction   string                 `json:"direction"`
	EventTime   *time.Time             `json:"event_time"`
	SnapshotURL string                 `json:"snapshot_url"`
	RawPayload  map[string]interface{} `json:"raw_payload"`
}

func (r plateReadRequest) toPlateRead() parking.PlateRead {
	read := parking.PlateRead{
		CameraID:    strings.TrimSpace(r.CameraID),
		Source:      strings.TrimSpace(r.Source),
		Plate:       r.Plate,
		Confidence:  r.Confidence,
		Direction:   parseDirection(r.Direction),
		SnapshotURL: strings.TrimSpace(r.SnapshotURL),
		RawPayload:  r.RawPayload,
	}
	if r.EventTime != nil {
		read.EventTime = r.EventTime.UTC()
	}
	if read.Source == "" {
		read.Source = "api"
	}
	return read
}

func (h *Handler) createPlateRead(c *gin.Context) {
	var req plateReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	decision, err := h.parkingService.ProcessPlateRead(c.Request.Context(), req.toPlateRead())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(decisionStatus(decision), successResponse(decision))
}

// decisionStatus: 201 когда событие записано в журнал, 200 для проигнорированных кадров
func decisionStatus(d *parking.Decision) int {
	if d.Kind.Ignored() {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (h *Handler) listEvents(c *gin.Context) {
	query := service.EventQuery{
		Plate:    optionalQuery(c, "plate"),
		Decision: optionalQuery(c, "decision"),
		From:     optionalQuery(c, "from"),
		To:       optionalQuery(c, "to"),
		Limit:    50,
	}

	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			query.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			query.Offset = parsed
		}
	}

	events, err := h.parkingService.FindEvents(c.Request.Context(), query)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) cleanupEvents(c *gin.Context) {
	var req struct {
		Days int `json:"days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if req.Days == 0 {
		req.Days = h.config.Parking.EventRetentionDays
	}

	deleted, err := h.parkingService.CleanupOldEvents(c.Request.Context(), req.Days)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"deleted_count": deleted,
		"days":          req.Days,
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func (h *Handler) checkCameraStatus(c *gin.Context) {
	httpHost := h.config.Camera.HTTPHost

	status := gin.H{
		"camera_id":  h.config.Camera.ID,
		"http_host":  maskPassword(httpHost),
		"configured": httpHost != "",
	}

	// Проверяем доступность HTTP интерфейса камеры
	if httpHost != "" {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(httpHost)
		if err != nil {
			status["http_accessible"] = false
			status["http_error"] = err.Error()
		} else {
			resp.Body.Close()
			status["http_accessible"] = resp.StatusCode < 500
			status["http_status"] = resp.StatusCode
		}
	} else {
		status["http_accessible"] = false
		status["http_error"] = "HTTP host not configured"
	}

	h.log.Info().
		Str("http_host", maskPassword(httpHost)).
		Bool("http_accessible", status["http_accessible"].(bool)).
		Msg("camera status checked")

	c.JSON(http.StatusOK, gin.H{
		"status": status,
	})
}

func maskPassword(url string) string {
	// Маскируем пароль в URL для безопасности
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			authPart := parts[0]
			if strings.Contains(authPart, "://") {
				protocol := strings.Split(authPart, "://")[0]
				credentials := strings.Split(authPart, "://")[1]
				if strings.Contains(credentials, ":") {
					username := strings.Split(credentials, ":")[0]
					return protocol + "://" + username + ":****@" + parts[1]
				}
			}
		}
	}
	return url
}

func optionalQuery(c *gin.Context, key string) *string {
	if v := strings.TrimSpace(c.Query(key)); v != "" {
		return &v
	}
	return nil
}

func parseDirection(value string) parking.Direction {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "approaching", "forward", "in", "entry":
		return parking.DirectionApproaching
	case "leaving", "reverse", "backward", "out", "exit":
		return parking.DirectionLeaving
	default:
		return parking.DirectionUnknown
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
