package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/emojify/internal/auth"
	"github.com/example/emojify/internal/emoji"
	"github.com/example/emojify/internal/emojifier"
	"github.com/example/emojify/internal/facedetect"
	"github.com/example/emojify/internal/imaging"
	"github.com/example/emojify/internal/logging"
	"github.com/example/emojify/internal/repository"
	"github.com/example/emojify/internal/usecase"
)

type stubService struct {
	outcome    *usecase.Outcome
	emojifyErr error
	calls      int
	gotUser    string
	gotImage   int
	gotFaces   []facedetect.DetectedFace
	log        *repository.EmojifyLog
	lookupErr  error
	image      []byte
	imageErr   error
	summary    *usecase.MetricsSummary
}

func (s *stubService) Emojify(ctx context.Context, userID string, imageBytes []byte, faces []facedetect.DetectedFace) (*usecase.Outcome, error) {
	s.calls++
	s.gotUser = userID
	s.gotImage = len(imageBytes)
	s.gotFaces = faces
	return s.outcome, s.emojifyErr
}

func (s *stubService) GetResult(ctx context.Context, userID, requestID string) (*repository.EmojifyLog, error) {
	return s.log, s.lookupErr
}

func (s *stubService) GetImage(ctx context.Context, userID, requestID string) ([]byte, string, error) {
	return s.image, "image/png", s.imageErr
}

func (s *stubService) GetMetricsSummary(ctx context.Context, userID string) (*usecase.MetricsSummary, error) {
	return s.summary, nil
}

func newRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	router.Use(RequestLogger(zap.NewNop()))
	RegisterRoutes(router, svc, auth.JWTMiddleware(testJWTSecret, ""))
	return router
}

func pngUpload(t *testing.T, faces string) (*bytes.Buffer, string) {
	t.Helper()

	var img bytes.Buffer
	if err := png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "photo.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(img.Bytes()); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if faces != "" {
		if err := writer.WriteField("faces", faces); err != nil {
			t.Fatalf("write faces: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func serve(t *testing.T, router *gin.Engine, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestEmojifyReturnsFaces(t *testing.T) {
	svc := &stubService{outcome: &usecase.Outcome{
		RequestID: "req-1",
		Faces: []emojifier.FaceOutcome{{
			Face:     facedetect.DetectedFace{Width: 10, Height: 10, Smiling: 0.9, LeftEyeOpen: 0.1, RightEyeOpen: 0.9},
			Category: emoji.LeftWink,
		}},
		Width:  4,
		Height: 4,
	}}
	body, contentType := pngUpload(t, `[{"x":1,"y":2,"width":10,"height":10,"smiling":0.9,"left_eye_open":0.1,"right_eye_open":0.9}]`)

	resp := serve(t, newRouter(svc), http.MethodPost, "/emojify", body, contentType)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.gotUser != "user-123" {
		t.Fatalf("expected user from token, got %q", svc.gotUser)
	}
	if len(svc.gotFaces) != 1 || svc.gotFaces[0].X != 1 || svc.gotFaces[0].LeftEyeOpen != 0.1 {
		t.Fatalf("unexpected faces forwarded: %+v", svc.gotFaces)
	}

	var payload struct {
		RequestID string `json:"request_id"`
		ImageURL  string `json:"image_url"`
		Faces     []struct {
			Category string `json:"category"`
		} `json:"faces"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.RequestID != "req-1" || payload.ImageURL != "/result/req-1/image" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(payload.Faces) != 1 || payload.Faces[0].Category != "LEFT_WINK" {
		t.Fatalf("unexpected faces: %+v", payload.Faces)
	}
}

func TestEmojifyEmptyFacesFieldIsForwarded(t *testing.T) {
	svc := &stubService{outcome: &usecase.Outcome{RequestID: "req-2", NoFaces: true}}
	body, contentType := pngUpload(t, `[]`)

	resp := serve(t, newRouter(svc), http.MethodPost, "/emojify", body, contentType)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.gotFaces == nil || len(svc.gotFaces) != 0 {
		t.Fatalf("expected empty non-nil faces, got %#v", svc.gotFaces)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(`"message":"no faces detected"`)) {
		t.Fatalf("expected no faces notice, got %s", resp.Body.String())
	}
}

func TestEmojifyRawFormatStreamsImage(t *testing.T) {
	svc := &stubService{outcome: &usecase.Outcome{RequestID: "req-3", ContentType: "image/jpeg", Image: []byte("jpeg")}}
	body, contentType := pngUpload(t, "")

	resp := serve(t, newRouter(svc), http.MethodPost, "/emojify?format=raw", body, contentType)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("unexpected content type: %s", got)
	}
	if resp.Header().Get("X-Request-ID") != "req-3" || resp.Body.String() != "jpeg" {
		t.Fatalf("unexpected raw response: %s", resp.Body.String())
	}
	if svc.gotFaces != nil {
		t.Fatalf("expected detector path without faces field, got %+v", svc.gotFaces)
	}
}

func TestEmojifyRejectsMalformedFaces(t *testing.T) {
	body, contentType := pngUpload(t, `{"not":"a list"}`)
	resp := serve(t, newRouter(&stubService{}), http.MethodPost, "/emojify", body, contentType)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestEmojifyMapsUseCaseErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"undecodable":     {logging.NewOperationError("usecase.decode_image", "r", imaging.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		"too many pixels": {logging.NewOperationError("usecase.decode_image", "r", imaging.ErrImageTooLarge), http.StatusRequestEntityTooLarge},
		"no detector":     {logging.NewOperationError("usecase.detect_faces", "r", usecase.ErrNoDetector), http.StatusServiceUnavailable},
		"storage down":    {errors.New("db down"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			body, contentType := pngUpload(t, "")
			resp := serve(t, newRouter(&stubService{emojifyErr: tc.err}), http.MethodPost, "/emojify", body, contentType)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}

func TestEmojifyRequiresToken(t *testing.T) {
	body, contentType := pngUpload(t, "")
	req := httptest.NewRequest(http.MethodPost, "/emojify", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	newRouter(&stubService{}).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestResultLookupErrors(t *testing.T) {
	notFound := &stubService{lookupErr: logging.NewOperationError("repository.find_log", "r", repository.ErrNotFound)}
	if resp := serve(t, newRouter(notFound), http.MethodGet, "/result/r", nil, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}

	expired := &stubService{imageErr: usecase.ErrImageExpired}
	if resp := serve(t, newRouter(expired), http.MethodGet, "/result/r/image", nil, ""); resp.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", resp.Code)
	}
}

func TestResultReturnsCategories(t *testing.T) {
	svc := &stubService{log: &repository.EmojifyLog{RequestID: "r", UserID: "user-123", FaceCount: 2, Categories: "SMILE,FROWN"}}
	resp := serve(t, newRouter(svc), http.MethodGet, "/result/r", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(`"categories":["SMILE","FROWN"]`)) {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	svc := &stubService{summary: &usecase.MetricsSummary{TotalRequests: 3}}
	resp := serve(t, newRouter(svc), http.MethodGet, "/metrics", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(`"total_requests":3`)) {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}
