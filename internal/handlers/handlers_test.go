package handlers

import (
	"bytes"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/emojify/internal/usecase"
)

const testJWTSecret = "test-secret"

// uploadPart is one file part of an emojify form.
type uploadPart struct {
	field       string
	contentType string
	data        []byte
}

func emojifyForm(t *testing.T, file *uploadPart, faces string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if file != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+file.field+`"; filename="upload"`)
		header.Set("Content-Type", file.contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := part.Write(file.data); err != nil {
			t.Fatalf("write file part: %v", err)
		}
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

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestEmojifyRejectsImageOverUploadLimit(t *testing.T) {
	svc := &stubService{}
	body, contentType := emojifyForm(t, &uploadPart{"image", "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1)}, "")

	resp := serve(t, newRouter(svc), http.MethodPost, "/emojify", body, contentType)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}
	if svc.calls != 0 {
		t.Fatal("service should not run for oversized uploads")
	}
}

func TestEmojifyAllowsFormOverheadAtUploadLimit(t *testing.T) {
	svc := &stubService{outcome: &usecase.Outcome{RequestID: "req-full"}}
	faces := `[{"x":0,"y":0,"width":40,"height":40,"smiling":0.2,"left_eye_open":0.9,"right_eye_open":0.9}]`
	body, contentType := emojifyForm(t, &uploadPart{"image", "image/png", bytes.Repeat([]byte("a"), MaxUploadSize)}, faces)
	if body.Len() <= MaxUploadSize {
		t.Fatalf("form should exceed the image limit by its overhead, got %d bytes", body.Len())
	}

	resp := serve(t, newRouter(svc), http.MethodPost, "/emojify", body, contentType)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.gotImage != MaxUploadSize {
		t.Fatalf("expected %d image bytes forwarded, got %d", MaxUploadSize, svc.gotImage)
	}
	if len(svc.gotFaces) != 1 || svc.gotFaces[0].Width != 40 {
		t.Fatalf("expected faces field to survive alongside a full image, got %+v", svc.gotFaces)
	}
}

func TestEmojifyRequiresImageField(t *testing.T) {
	cases := map[string]*uploadPart{
		"faces only":     nil,
		"wrong field":    {"photo", "image/png", tinyPNG(t)},
		"empty filename": {"", "image/png", tinyPNG(t)},
	}
	for name, file := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubService{}
			body, contentType := emojifyForm(t, file, `[]`)
			resp := serve(t, newRouter(svc), http.MethodPost, "/emojify", body, contentType)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
			if svc.calls != 0 {
				t.Fatal("service should not run without an image")
			}
		})
	}
}

func TestEmojifyUploadContentTypes(t *testing.T) {
	cases := map[string]struct {
		declared string
		data     []byte
		want     int
	}{
		"declared png":          {"image/png", tinyPNG(t), http.StatusOK},
		"declared with params":  {"image/jpeg; charset=binary", []byte("jpeg"), http.StatusOK},
		"sniffed octet stream":  {"application/octet-stream", tinyPNG(t), http.StatusOK},
		"declared text":         {"text/plain", []byte("hello"), http.StatusUnsupportedMediaType},
		"sniffed text as octet": {"application/octet-stream", []byte("hello"), http.StatusUnsupportedMediaType},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubService{outcome: &usecase.Outcome{RequestID: "req"}}
			body, contentType := emojifyForm(t, &uploadPart{"image", tc.declared, tc.data}, "")
			resp := serve(t, newRouter(svc), http.MethodPost, "/emojify", body, contentType)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
