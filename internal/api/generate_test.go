package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/heimdex/avatar-agent/internal/apperr"
)

func multipartRequest(t *testing.T, fields map[string]string, filename string, image []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("image", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(image)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/avatar/generate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func TestGenerate_QueuesJob(t *testing.T) {
	svc := &fakeService{}
	cfg := testConfig()
	cfg.CatalogService = svc
	cfg.UploadDir = t.TempDir()
	runner := cfg.Runner.(*fakeRunner)

	req := multipartRequest(t, map[string]string{
		"text":      "Bonjour tout le monde",
		"gender":    "male",
		"nat":       "france",
		"subtitles": "true",
	}, "../../my face?.PNG", []byte("png-bytes"))
	rr := httptest.NewRecorder()
	NewRouter(cfg).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	if body["job_id"] != "new-job" || body["video_url"] != "/jobs/new-job/video" {
		t.Errorf("body = %v", body)
	}
	if runner.wakes != 1 {
		t.Errorf("runner woken %d times, want 1", runner.wakes)
	}

	if len(svc.submitted) != 1 {
		t.Fatalf("submitted %d jobs", len(svc.submitted))
	}
	sub := svc.submitted[0]
	if sub.Text != "Bonjour tout le monde" || sub.Gender != "male" || sub.Nationality != "france" || sub.Captions != "soft" {
		t.Errorf("submit = %+v", sub)
	}
	if filepath.Base(sub.ImagePath) != "my face_.png" {
		t.Errorf("stored as %q", filepath.Base(sub.ImagePath))
	}
	if !strings.HasPrefix(sub.ImagePath, cfg.UploadDir) {
		t.Errorf("upload escaped dir: %s", sub.ImagePath)
	}
	data, err := os.ReadFile(sub.ImagePath)
	if err != nil || string(data) != "png-bytes" {
		t.Errorf("stored image = %q, %v", data, err)
	}
}

func TestGenerate_Rejects(t *testing.T) {
	cases := []struct {
		name     string
		fields   map[string]string
		filename string
		want     int
	}{
		{"no text", map[string]string{"text": "  "}, "a.png", http.StatusBadRequest},
		{"no image", map[string]string{"text": "hi"}, "", http.StatusBadRequest},
		{"bad subtitles", map[string]string{"text": "hi", "subtitles": "maybe"}, "a.png", http.StatusBadRequest},
		{"not an image", map[string]string{"text": "hi"}, "a.exe", http.StatusUnsupportedMediaType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{}
			cfg := testConfig()
			cfg.CatalogService = svc
			cfg.UploadDir = t.TempDir()

			rr := httptest.NewRecorder()
			NewRouter(cfg).ServeHTTP(rr, multipartRequest(t, tc.fields, tc.filename, []byte("x")))

			if rr.Code != tc.want {
				t.Errorf("status = %d, want %d", rr.Code, tc.want)
			}
			if len(svc.submitted) != 0 {
				t.Error("nothing should be submitted")
			}
		})
	}
}

func TestGenerate_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.UploadDir = t.TempDir()
	cfg.MaxUploadBytes = 1024

	rr := httptest.NewRecorder()
	req := multipartRequest(t, map[string]string{"text": "hi"}, "a.png", bytes.Repeat([]byte{1}, 4096))
	NewRouter(cfg).ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}
}

func TestGenerate_SubmitInputErrorCleansUpload(t *testing.T) {
	cfg := testConfig()
	cfg.UploadDir = t.TempDir()
	cfg.CatalogService = &fakeService{submitErr: apperr.Inputf("submit job", "image is required")}

	rr := httptest.NewRecorder()
	NewRouter(cfg).ServeHTTP(rr, multipartRequest(t, map[string]string{"text": "hi"}, "a.png", []byte("x")))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	entries, _ := os.ReadDir(cfg.UploadDir)
	if len(entries) != 0 {
		t.Errorf("upload dir not cleaned: %d entries", len(entries))
	}
}

func TestParseSubtitlesField(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"true":   "soft",
		"1":      "soft",
		"false":  "none",
		"none":   "none",
		"Burned": "burned",
		"soft":   "soft",
	}
	for in, want := range cases {
		got, err := parseSubtitlesField(in)
		if err != nil || got != want {
			t.Errorf("parseSubtitlesField(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := parseSubtitlesField("sometimes"); err == nil {
		t.Error("expected error for unknown value")
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"hello\x00world\n", 0, "helloworld"},
		{"abcdefghij", 5, "abcde"},
		{"Café (final), v2_draft-1.png", 0, "Café (final), v2_draft-1.png"},
		{"a/b\\c:d*e", 0, "a_b_c_d_e"},
		{"  padded  ", 0, "padded"},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in, tc.max); got != tc.want {
			t.Errorf("SanitizeName(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
