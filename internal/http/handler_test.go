package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parking-service/internal/auth"
	"parking-service/internal/config"
	"parking-service/internal/db"
	"parking-service/internal/http/middleware"
	"parking-service/internal/model"
	"parking-service/internal/notify"
	"parking-service/internal/repository"
	"parking-service/internal/service"
	"parking-service/internal/slots"
	"parking-service/internal/tracker"
)

type testServer struct {
	router   *gin.Engine
	handler  *Handler
	admin    string
	operator string
	viewer   string
}

func newTestServer(t *testing.T, slotCount int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(config.DBConfig{Driver: db.DriverSQLite, DSN: ":memory:"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })
	if err := db.EnsureSlots(context.Background(), database, slotCount); err != nil {
		t.Fatalf("seed slots: %v", err)
	}

	cfg := &config.Config{
		Environment: "test",
		Camera:      config.CameraConfig{ID: "entry-camera"},
		Parking:     config.ParkingConfig{EventRetentionDays: 90},
	}
	hub := notify.NewHub()
	svc := service.NewParkingService(
		repository.NewParkingRepository(database),
		tracker.New(tracker.DefaultWindow),
		slots.FirstAvailable{},
		nil,
		hub,
		service.Options{DefaultCameraID: cfg.Camera.ID, EnforcePlateFormat: true},
		zerolog.Nop(),
	)

	parser := auth.NewParser("test-secret")
	handler := NewHandler(svc, hub, cfg, zerolog.Nop(), nil)
	router := NewRouter(handler, middleware.Auth(parser), cfg.Environment, database, zerolog.Nop())

	issue := func(role model.UserRole) string {
		token, err := parser.Issue(model.Principal{UserID: uuid.New(), Role: role}, time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		return token
	}

	return &testServer{
		router:   router,
		handler:  handler,
		admin:    issue(model.UserRoleAdmin),
		operator: issue(model.UserRoleOperator),
		viewer:   issue(model.UserRoleViewer),
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type decisionBody struct {
	Data struct {
		Plate    string `json:"plate"`
		Decision string `json:"decision"`
		Slot     *int   `json:"slot"`
		GateOpen bool   `json:"gate_opened"`
		Snapshot string `json:"snapshot_url"`
	} `json:"data"`
}

func decodeDecision(t *testing.T, rec *httptest.ResponseRecorder) decisionBody {
	t.Helper()
	var body decisionBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return body
}

func TestCreatePlateRead(t *testing.T) {
	srv := newTestServer(t, 2)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantKind   string
	}{
		{name: "unregistered", body: gin.H{"plate": "TN22XY9999", "confidence": 88.2}, wantStatus: http.StatusCreated, wantKind: "denied_unregistered"},
		{name: "repeat inside window", body: gin.H{"plate": "TN 22 XY 9999"}, wantStatus: http.StatusOK, wantKind: "ignored_debounced"},
		{name: "bad format", body: gin.H{"plate": "HELLO"}, wantStatus: http.StatusOK, wantKind: "ignored_invalid"},
		{name: "missing plate", body: gin.H{"confidence": 10}, wantStatus: http.StatusBadRequest},
		{name: "only punctuation", body: gin.H{"plate": "--"}, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/v1/plates/reads", "", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantKind != "" {
				if got := decodeDecision(t, rec).Data.Decision; got != tt.wantKind {
					t.Errorf("decision = %q, want %q", got, tt.wantKind)
				}
			}
		})
	}
}

func TestVehicleRegistryFlow(t *testing.T) {
	srv := newTestServer(t, 2)
	vehicle := gin.H{"number_plate": "MH04AB1234", "owner_name": "Asha", "vehicle_type": "car"}

	if rec := srv.do(t, http.MethodPost, "/api/v1/vehicles", "", vehicle); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous register status = %d, want 401", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/v1/vehicles", srv.viewer, vehicle); rec.Code != http.StatusForbidden {
		t.Errorf("viewer register status = %d, want 403", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/v1/vehicles", srv.operator, gin.H{"number_plate": "MH04AB1234"}); rec.Code != http.StatusBadRequest {
		t.Errorf("incomplete register status = %d, want 400", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/v1/vehicles", srv.operator, vehicle); rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}
	if rec := srv.do(t, http.MethodPost, "/api/v1/vehicles", srv.admin, vehicle); rec.Code != http.StatusOK {
		t.Errorf("re-register status = %d, want 200", rec.Code)
	}

	rec := srv.do(t, http.MethodPost, "/api/v1/plates/reads", "", gin.H{"plate": "MH04AB1234"})
	body := decodeDecision(t, rec)
	if rec.Code != http.StatusCreated || body.Data.Decision != "entry" || body.Data.Slot == nil || *body.Data.Slot != 1 {
		t.Fatalf("entry response = %d %s", rec.Code, rec.Body.String())
	}

	if rec := srv.do(t, http.MethodGet, "/api/v1/vehicles/mh04ab1234", "", nil); rec.Code != http.StatusOK {
		t.Errorf("get vehicle status = %d, want 200", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/api/v1/vehicles/KA01AB0001", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get unknown vehicle status = %d, want 404", rec.Code)
	}

	if rec := srv.do(t, http.MethodPost, "/api/v1/slots/abc/release", srv.admin, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("release non-numeric slot status = %d, want 400", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/v1/slots/2/release", srv.admin, nil); rec.Code != http.StatusNotFound {
		t.Errorf("release free slot status = %d, want 404", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/v1/slots/1/release", srv.admin, nil); rec.Code != http.StatusOK {
		t.Errorf("release slot status = %d, want 200", rec.Code)
	}

	if rec := srv.do(t, http.MethodDelete, "/api/v1/vehicles/MH04AB1234", srv.admin, nil); rec.Code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", rec.Code)
	}
	if rec := srv.do(t, http.MethodDelete, "/api/v1/vehicles/MH04AB1234", srv.admin, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestDashboardAndSlots(t *testing.T) {
	srv := newTestServer(t, 3)
	srv.do(t, http.MethodPost, "/api/v1/vehicles", srv.admin, gin.H{"number_plate": "KA01AB0001", "owner_name": "Meera", "vehicle_type": "car"})
	srv.do(t, http.MethodPost, "/api/v1/plates/reads", "", gin.H{"plate": "KA01AB0001"})

	rec := srv.do(t, http.MethodGet, "/api/v1/dashboard", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rec.Code)
	}
	var body struct {
		Data struct {
			Vehicles []struct {
				Number int    `json:"number"`
				Plate  string `json:"plate"`
			} `json:"vehicles"`
			Slots []struct {
				Slot  int    `json:"slot"`
				Plate string `json:"plate"`
				Owner string `json:"owner"`
			} `json:"slots"`
			OccupiedSlots int `json:"occupied_slots"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data.Vehicles) != 1 || body.Data.Vehicles[0].Number != 1 {
		t.Errorf("vehicles = %+v", body.Data.Vehicles)
	}
	if len(body.Data.Slots) != 3 || body.Data.Slots[0].Owner != "Meera" || body.Data.Slots[1].Plate != "-" {
		t.Errorf("slots = %+v", body.Data.Slots)
	}
	if body.Data.OccupiedSlots != 1 {
		t.Errorf("occupied = %d, want 1", body.Data.OccupiedSlots)
	}

	if rec := srv.do(t, http.MethodGet, "/api/v1/slots", "", nil); rec.Code != http.StatusOK {
		t.Errorf("slots status = %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodGet, "/api/v1/events?decision=entry", "", nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "KA01AB0001") {
		t.Errorf("events = %d %s", rec.Code, rec.Body.String())
	}
	if rec := srv.do(t, http.MethodGet, "/api/v1/events?from=yesterday", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad from status = %d, want 400", rec.Code)
	}
}

func TestReportsAndCleanup(t *testing.T) {
	srv := newTestServer(t, 2)

	if rec := srv.do(t, http.MethodGet, "/api/v1/reports/slots.xlsx", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous report status = %d, want 401", rec.Code)
	}
	for _, path := range []string{"/api/v1/reports/slots.xlsx", "/api/v1/reports/events.xlsx"} {
		rec := srv.do(t, http.MethodGet, path, srv.viewer, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
			continue
		}
		if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
			t.Errorf("%s content type = %q", path, ct)
		}
		if !strings.Contains(rec.Header().Get("Content-Disposition"), ".xlsx") {
			t.Errorf("%s content disposition = %q", path, rec.Header().Get("Content-Disposition"))
		}
	}

	if rec := srv.do(t, http.MethodPost, "/api/v1/events/cleanup", srv.admin, gin.H{"days": -1}); rec.Code != http.StatusBadRequest {
		t.Errorf("negative cleanup status = %d, want 400", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/v1/events/cleanup", srv.admin, gin.H{}); rec.Code != http.StatusOK {
		t.Errorf("default cleanup status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
}

const hikvisionXML = `<?xml version="1.0" encoding="UTF-8"?>
<EventNotificationAlert version="2.0">
  <ipAddress>192.168.1.64</ipAddress>
  <channelID>1</channelID>
  <dateTime>2025-03-01T13:45:10+05:30</dateTime>
  <eventType>ANPR</eventType>
  <deviceID>gate-cam</deviceID>
  <ANPR>
    <licensePlate>MH04AB1234</licensePlate>
    <confidenceLevel>93</confidenceLevel>
    <direction>forward</direction>
  </ANPR>
</EventNotificationAlert>`

func multipartBody(t *testing.T, xmlPayload string, picture ...[]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="anpr.xml"; filename="anpr.xml"`)
	header.Set("Content-Type", "application/xml")
	part, err := w.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(xmlPayload))
	for _, data := range picture {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="detectionPicture.jpg"; filename="detectionPicture.jpg"`)
		header.Set("Content-Type", "image/jpeg")
		part, err := w.CreatePart(header)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

type uploadedSnapshot struct {
	plate       string
	size        int64
	contentType string
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []uploadedSnapshot
	err     error
}

func (u *fakeUploader) UploadSnapshot(_ context.Context, plate string, _ time.Time, body io.Reader, size int64, contentType string) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.uploads = append(u.uploads, uploadedSnapshot{plate: plate, size: size, contentType: contentType})
	return fmt.Sprintf("https://cdn.example.com/snapshots/%s_%d.jpg", plate, len(u.uploads)), nil
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.uploads)
}

func postHikvision(t *testing.T, srv *testServer, xmlPayload string, picture ...[]byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, xmlPayload, picture...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/anpr/hikvision", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateHikvisionEvent(t *testing.T) {
	srv := newTestServer(t, 1)
	srv.do(t, http.MethodPost, "/api/v1/vehicles", srv.admin, gin.H{"number_plate": "MH04AB1234", "owner_name": "Asha", "vehicle_type": "car"})

	body, contentType := multipartBody(t, hikvisionXML)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/anpr/hikvision", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}
	if got := decodeDecision(t, rec).Data.Decision; got != "entry" {
		t.Errorf("decision = %q, want entry", got)
	}

	heartbeat := strings.Replace(hikvisionXML, "<licensePlate>MH04AB1234</licensePlate>", "", 1)
	body, contentType = multipartBody(t, heartbeat)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/anpr/hikvision", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"processed":false`) {
		t.Errorf("event without plate = %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/anpr/hikvision", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d, want 400", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/anpr/hikvision", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("endpoint check status = %d, want 200", rec.Code)
	}
}

func TestHikvisionSnapshotUpload(t *testing.T) {
	picture := []byte{0xff, 0xd8, 0xff, 0xe0, 'j', 'p', 'e', 'g'}
	// камера присылает номер с пробелом и в нижнем регистре
	xmlPayload := strings.Replace(hikvisionXML, "<licensePlate>MH04AB1234</licensePlate>", "<licensePlate>mh04 ab1234</licensePlate>", 1)

	t.Run("uploads only the decided frame", func(t *testing.T) {
		srv := newTestServer(t, 1)
		uploader := &fakeUploader{}
		srv.handler.snapshots = uploader
		srv.do(t, http.MethodPost, "/api/v1/vehicles", srv.admin, gin.H{"number_plate": "MH04AB1234", "owner_name": "Asha", "vehicle_type": "car"})

		var codes []int
		for i := 0; i < 5; i++ {
			codes = append(codes, postHikvision(t, srv, xmlPayload, picture).Code)
		}

		want := []int{http.StatusCreated, http.StatusOK, http.StatusOK, http.StatusOK, http.StatusOK}
		if fmt.Sprint(codes) != fmt.Sprint(want) {
			t.Fatalf("statuses = %v, want %v", codes, want)
		}
		if got := uploader.count(); got != 1 {
			t.Fatalf("uploads = %d, want 1 for a single decided frame", got)
		}
		up := uploader.uploads[0]
		if up.plate != "MH04AB1234" || up.size != int64(len(picture)) || up.contentType != "image/jpeg" {
			t.Errorf("upload = %+v, want normalized plate and jpeg of %d bytes", up, len(picture))
		}

		rec := srv.do(t, http.MethodGet, "/api/v1/events?plate=MH04AB1234", "", nil)
		if !strings.Contains(rec.Body.String(), "https://cdn.example.com/snapshots/MH04AB1234_1.jpg") {
			t.Errorf("stored event has no snapshot url: %s", rec.Body.String())
		}
	})

	t.Run("denied read keeps its picture", func(t *testing.T) {
		srv := newTestServer(t, 1)
		uploader := &fakeUploader{}
		srv.handler.snapshots = uploader

		rec := postHikvision(t, srv, xmlPayload, picture)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201 (%s)", rec.Code, rec.Body.String())
		}
		body := decodeDecision(t, rec)
		if body.Data.Decision != "denied_unregistered" || body.Data.Snapshot == "" {
			t.Errorf("decision = %+v, want denied_unregistered with snapshot", body.Data)
		}
		if got := uploader.count(); got != 1 {
			t.Errorf("uploads = %d, want 1", got)
		}
	})

	t.Run("invalid plate is not uploaded", func(t *testing.T) {
		srv := newTestServer(t, 1)
		uploader := &fakeUploader{}
		srv.handler.snapshots = uploader

		garbage := strings.Replace(hikvisionXML, "<licensePlate>MH04AB1234</licensePlate>", "<licensePlate>??12</licensePlate>", 1)
		rec := postHikvision(t, srv, garbage, picture)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
		}
		if got := uploader.count(); got != 0 {
			t.Errorf("uploads = %d, want 0 for ignored read", got)
		}
	})

	t.Run("upload failure does not fail the read", func(t *testing.T) {
		srv := newTestServer(t, 1)
		srv.handler.snapshots = &fakeUploader{err: errors.New("bucket unavailable")}
		srv.do(t, http.MethodPost, "/api/v1/vehicles", srv.admin, gin.H{"number_plate": "MH04AB1234", "owner_name": "Asha", "vehicle_type": "car"})

		rec := postHikvision(t, srv, xmlPayload, picture)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201 (%s)", rec.Code, rec.Body.String())
		}
		body := decodeDecision(t, rec)
		if body.Data.Decision != "entry" || body.Data.Snapshot != "" {
			t.Errorf("decision = %+v, want entry without snapshot", body.Data)
		}
	})
}

func TestHikvisionEventToPlateRead(t *testing.T) {
	var event hikvisionEvent
	if err := xml.Unmarshal([]byte(hikvisionXML), &event); err != nil {
		t.Fatal(err)
	}
	read := event.ToPlateRead()

	if read.Plate != "MH04AB1234" || read.CameraID != "1" || read.Source != "hikvision" {
		t.Errorf("read = %+v", read)
	}
	if read.Confidence != 93 || read.Direction != "approaching" {
		t.Errorf("confidence/direction = %v/%v", read.Confidence, read.Direction)
	}
	if want := time.Date(2025, 3, 1, 8, 15, 10, 0, time.UTC); !read.EventTime.Equal(want) || read.EventTime.Location() != time.UTC {
		t.Errorf("event time = %v, want %v", read.EventTime, want)
	}
}

func TestStreamDashboard(t *testing.T) {
	srv := newTestServer(t, 2)
	server := httptest.NewServer(srv.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/dashboard/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read first line: %v", err)
	}
	if strings.TrimSpace(line) != "event:dashboard" {
		t.Errorf("first line = %q, want event:dashboard", line)
	}
}

func TestStreamDashboardEndsOnShutdown(t *testing.T) {
	srv := newTestServer(t, 2)
	server := httptest.NewServer(srv.router)
	defer server.Close()
	server.Config.RegisterOnShutdown(srv.handler.hub.Close)

	resp, err := http.Get(server.URL + "/api/v1/dashboard/stream")
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("read first line: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := server.Config.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v, open stream kept the server busy", err)
	}
	if _, err := io.ReadAll(reader); err != nil {
		t.Errorf("stream did not end cleanly: %v", err)
	}
}
