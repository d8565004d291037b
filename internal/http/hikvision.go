package http

import (
	"encoding/xml"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"parking-service/internal/domain/parking"
)

const maxMultipartMemory = 10 << 20

func (h *Handler) createHikvisionEvent(c *gin.Context) {
	h.log.Debug().
		Str("remote_addr", c.ClientIP()).
		Str("user_agent", c.Request.UserAgent()).
		Str("content_type", c.Request.Header.Get("Content-Type")).
		Msg("received Hikvision event request")

	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
		h.log.Error().Err(err).Msg("failed to parse multipart request")
		c.JSON(http.StatusBadRequest, errorResponse("invalid multipart payload"))
		return
	}

	xmlPayload, err := extractXMLPayload(c.Request.MultipartForm)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to extract xml payload")
		c.JSON(http.StatusBadRequest, errorResponse("xml payload not found"))
		return
	}

	hikEvent := &hikvisionEvent{}
	if err := xml.Unmarshal(xmlPayload, hikEvent); err != nil {
		h.log.Error().
			Err(err).
			Str("xml_preview", string(xmlPayload[:min(200, len(xmlPayload))])).
			Msg("failed to parse hikvision xml")
		c.JSON(http.StatusBadRequest, errorResponse("invalid xml payload"))
		return
	}

	// камера шлёт и служебные события (heartbeat, videoloss), номер есть только в ANPR
	if strings.TrimSpace(hikEvent.ANPR.LicensePlate) == "" {
		h.log.Debug().Str("event_type", hikEvent.EventType).Msg("hikvision event without plate skipped")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "processed": false})
		return
	}

	read := hikEvent.ToPlateRead()
	if read.CameraID == "" {
		read.CameraID = firstNonEmpty(c.Query("camera_id"), h.config.Camera.ID)
	}
	if read.EventTime.IsZero() {
		read.EventTime = time.Now().UTC()
	}

	decision, err := h.parkingService.ProcessPlateRead(c.Request.Context(), read)
	if err != nil {
		h.handleError(c, err)
		return
	}

	// кадры, отброшенные дебаунсом, в хранилище не попадают
	if h.snapshots != nil && !decision.Kind.Ignored() && decision.EventID != nil {
		h.attachPicture(c, c.Request.MultipartForm, decision)
	}

	c.JSON(decisionStatus(decision), gin.H{
		"status":    "ok",
		"processed": !decision.Kind.Ignored(),
		"data":      decision,
	})
}

// checkHikvisionEndpoint обрабатывает GET запросы от камеры для проверки доступности эндпоинта
func (h *Handler) checkHikvisionEndpoint(c *gin.Context) {
	h.log.Info().
		Str("remote_addr", c.ClientIP()).
		Str("user_agent", c.Request.UserAgent()).
		Msg("received Hikvision endpoint check request")

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Hikvision ANPR endpoint is available",
	})
}

func (h *Handler) attachPicture(c *gin.Context, form *multipart.Form, decision *parking.Decision) {
	fh := findPicture(form)
	if fh == nil {
		return
	}
	file, err := fh.Open()
	if err != nil {
		h.log.Warn().Err(err).Str("filename", fh.Filename).Msg("failed to open picture attachment")
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	url, err := h.snapshots.UploadSnapshot(ctx, decision.Plate, decision.EventTime, file, fh.Size, fh.Header.Get("Content-Type"))
	if err != nil {
		h.log.Warn().Err(err).Str("plate", decision.Plate).Msg("failed to upload snapshot")
		return
	}
	if err := h.parkingService.AttachSnapshot(ctx, *decision.EventID, url); err != nil {
		h.log.Warn().Err(err).Str("plate", decision.Plate).Str("url", url).Msg("failed to attach snapshot to event")
		return
	}
	decision.SnapshotURL = url
}

func extractXMLPayload(form *multipart.Form) ([]byte, error) {
	if form == nil {
		return nil, errors.New("empty form")
	}

	for _, files := range form.File {
		for _, fh := range files {
			if isXMLFile(fh) {
				file, err := fh.Open()
				if err != nil {
					return nil, err
				}
				defer file.Close()
				return io.ReadAll(file)
			}
		}
	}

	for key, values := range form.Value {
		if strings.Contains(strings.ToLower(key), "xml") && len(values) > 0 {
			return []byte(values[0]), nil
		}
	}

	return nil, errors.New("xml file not found")
}

func isXMLFile(fh *multipart.FileHeader) bool {
	filename := strings.ToLower(fh.Filename)
	if strings.HasSuffix(filename, ".xml") {
		return true
	}
	contentType := strings.ToLower(fh.Header.Get("Content-Type"))
	return strings.Contains(contentType, "xml")
}

// findPicture prefers the full scene picture over the plate crop.
func findPicture(form *multipart.Form) *multipart.FileHeader {
	if form == nil {
		return nil
	}
	var fallback *multipart.FileHeader
	for _, files := range form.File {
		for _, fh := range files {
			if !isImageFile(fh) {
				continue
			}
			if strings.Contains(strings.ToLower(fh.Filename), "detection") {
				return fh
			}
			if fallback == nil {
				fallback = fh
			}
		}
	}
	return fallback
}

func isImageFile(fh *multipart.FileHeader) bool {
	if strings.HasPrefix(strings.ToLower(fh.Header.Get("Content-Type")), "image/") {
		return true
	}
	filename := strings.ToLower(fh.Filename)
	return strings.HasSuffix(filename, ".jpg") || strings.HasSuffix(filename, ".jpeg")
}

type hikvisionEvent struct {
	XMLName          xml.Name `xml:"EventNotificationAlert"`
	EventType        string   `xml:"eventType" json:"event_type"`
	EventDescription string   `xml:"eventDescription" json:"event_description"`
	DateTime         string   `xml:"dateTime" json:"date_time"`
	ChannelID        string   `xml:"channelID" json:"channel_id"`
	DeviceID         string   `xml:"deviceID" json:"device_id"`
	DeviceName       string   `xml:"deviceName" json:"device_name"`
	IPAddress        string   `xml:"ipAddress" json:"ip_address"`
	ANPR             struct {
		LicensePlate    string  `xml:"licensePlate" json:"license_plate"`
		ConfidenceLevel float64 `xml:"confidenceLevel" json:"confidence_level"`
		VehicleType     string  `xml:"vehicleType" json:"vehicle_type"`
		PlateColor      string  `xml:"plateColor" json:"plate_color"`
		Country         string  `xml:"country" json:"country"`
		Direction       string  `xml:"direction" json:"direction"`
		LaneNo          string  `xml:"laneNo" json:"lane_no"`
	} `xml:"ANPR" json:"anpr"`
	VehicleInfo struct {
		Type  string `xml:"vehicleType" json:"vehicle_type"`
		Color string `xml:"color" json:"color"`
		Brand string `xml:"brand" json:"brand"`
	} `xml:"vehicleInfo" json:"vehicle_info"`
	PicInfo struct {
		StoragePath string   `xml:"ftpPath" json:"ftp_path"`
		FilePath    string   `xml:"filePath" json:"file_path"`
		FilePaths   []string `xml:"filePathList>filePath" json:"file_path_list"`
	} `xml:"picInfo" json:"pic_info"`
}

func (e *hikvisionEvent) ToPlateRead() parking.PlateRead {
	snapshotURL := firstNonEmpty(e.PicInfo.StoragePath, e.PicInfo.FilePath)
	if snapshotURL == "" && len(e.PicInfo.FilePaths) > 0 {
		snapshotURL = e.PicInfo.FilePaths[0]
	}

	rawPayload := map[string]interface{}{
		"event_type":        e.EventType,
		"event_description": e.EventDescription,
		"device_id":         e.DeviceID,
		"device_name":       e.DeviceName,
		"channel_id":        e.ChannelID,
		"ip_address":        e.IPAddress,
		"anpr":              e.ANPR,
		"vehicle_info":      e.VehicleInfo,
	}

	return parking.PlateRead{
		CameraID:    firstNonEmpty(e.ChannelID, e.DeviceID),
		Source:      "hikvision",
		Plate:       strings.TrimSpace(e.ANPR.LicensePlate),
		Confidence:  e.ANPR.ConfidenceLevel,
		Direction:   parseDirection(e.ANPR.Direction),
		EventTime:   parseHikvisionTime(e.DateTime),
		SnapshotURL: snapshotURL,
		RawPayload:  rawPayload,
	}
}

func parseHikvisionTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
	}

	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}

	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
