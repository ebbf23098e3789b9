package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/example/menu-labeler/internal/auth"
	"github.com/example/menu-labeler/internal/labels"
	"github.com/example/menu-labeler/internal/repository"
)

const testJWTSecret = "test-secret"

type stubLabeler struct {
	result   json.RawMessage
	err      error
	received []byte
	filename string
}

func (s *stubLabeler) Accepts(filename string) bool {
	return strings.HasSuffix(filename, ".jpg")
}

func (s *stubLabeler) ClassifyImage(ctx context.Context, filename string, data []byte) (json.RawMessage, error) {
	s.filename = filename
	s.received = data
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubFinder struct {
	record *repository.LabelRecord
	err    error
}

func (s *stubFinder) FindLatestByFilename(ctx context.Context, filename string) (*repository.LabelRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

func newRouter(labeler Labeler, records RecordFinder, maxUploadSize int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, labeler, records, auth.JWTMiddleware(testJWTSecret, ""), maxUploadSize)
	return router
}

func TestHealth(t *testing.T) {
	router := newRouter(&stubLabeler{}, nil, 0)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(&stubLabeler{}, nil, 0)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func TestClassifyRequiresToken(t *testing.T) {
	router := newRouter(&stubLabeler{}, nil, 0)
	body, contentType := buildMultipartBody(t, "menu.jpg", []byte("image"))

	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestClassifyReturnsResult(t *testing.T) {
	labeler := &stubLabeler{result: json.RawMessage(`{"menu_photo":"yes","receipt_photo":"no","dish_names":["Pho"]}`)}
	router := newRouter(labeler, nil, 0)
	body, contentType := buildMultipartBody(t, "menu.jpg", []byte("image"))

	resp := serveAuthorized(t, router, http.MethodPost, "/classify", body, contentType)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	var payload struct {
		Filename string                `json:"filename"`
		Result   labels.Classification `json:"result"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Filename != "menu.jpg" || !payload.Result.IsMenu() {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if string(labeler.received) != "image" {
		t.Fatalf("unexpected image bytes: %q", labeler.received)
	}
}

func TestClassifyRejectsLargeUpload(t *testing.T) {
	const limit = 1024
	router := newRouter(&stubLabeler{}, nil, limit)
	body, contentType := buildMultipartBody(t, "menu.jpg", bytes.Repeat([]byte("a"), limit+1))

	resp := serveAuthorized(t, router, http.MethodPost, "/classify", body, contentType)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestClassifyRejectsUnsupportedExtension(t *testing.T) {
	router := newRouter(&stubLabeler{}, nil, 0)
	body, contentType := buildMultipartBody(t, "menu.png", []byte("image"))

	resp := serveAuthorized(t, router, http.MethodPost, "/classify", body, contentType)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestClassifyRequiresImageField(t *testing.T) {
	router := newRouter(&stubLabeler{}, nil, 0)
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("other", "value"); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	resp := serveAuthorized(t, router, http.MethodPost, "/classify", body, writer.FormDataContentType())

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestClassifyMapsServiceErrors(t *testing.T) {
	router := newRouter(&stubLabeler{err: labels.ErrService}, nil, 0)
	body, contentType := buildMultipartBody(t, "menu.jpg", []byte("image"))

	resp := serveAuthorized(t, router, http.MethodPost, "/classify", body, contentType)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, resp.Code)
	}
}

func TestResultsWithoutStorage(t *testing.T) {
	router := newRouter(&stubLabeler{}, nil, 0)

	resp := serveAuthorized(t, router, http.MethodGet, "/results/a.jpg", nil, "")

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
}

func TestResultsLookup(t *testing.T) {
	tests := []struct {
		name   string
		finder *stubFinder
		status int
	}{
		{
			name: "found",
			finder: &stubFinder{record: &repository.LabelRecord{
				Filename:  "a.jpg",
				Status:    repository.StatusLabeled,
				Result:    `{"menu_photo":"yes"}`,
				CreatedAt: time.Now(),
			}},
			status: http.StatusOK,
		},
		{name: "not found", finder: &stubFinder{err: gorm.ErrRecordNotFound}, status: http.StatusNotFound},
		{name: "storage failure", finder: &stubFinder{err: errors.New("db down")}, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(&stubLabeler{}, tt.finder, 0)

			resp := serveAuthorized(t, router, http.MethodGet, "/results/a.jpg", nil, "")

			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.Code)
			}
		})
	}
}

func serveAuthorized(t *testing.T, router *gin.Engine, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "ops"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func buildMultipartBody(t *testing.T, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	header.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
