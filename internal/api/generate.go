package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/catalog"
)

// multipart parts beyond this are spilled to temp files
const formMemory = 8 << 20

const maxUploadName = 100

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true, ".gif": true,
}

// generateHandler accepts a multipart render request: image, text, gender,
// nat and subtitles. The portrait is stored under UploadDir and the job is
// queued for the runner.
func generateHandler(cfg ServerConfig) http.HandlerFunc {
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(formMemory); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				WriteError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit), "TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "expected multipart form", "BAD_REQUEST")
			return
		}
		defer r.MultipartForm.RemoveAll()

		text := strings.TrimSpace(r.FormValue("text"))
		if text == "" {
			WriteError(w, http.StatusBadRequest, "text is required", "BAD_REQUEST")
			return
		}
		captions, err := parseSubtitlesField(r.FormValue("subtitles"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		file, header, err := r.FormFile("image")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "image is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !imageExts[ext] {
			WriteError(w, http.StatusUnsupportedMediaType, "unsupported image type "+strconv.Quote(ext), "UNSUPPORTED_MEDIA")
			return
		}

		dir := filepath.Join(cfg.UploadDir, catalog.NewID())
		path, err := saveUpload(dir, header.Filename, file)
		if err != nil {
			cfg.Logger.Error("failed to store upload", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to store image", "INTERNAL_ERROR")
			return
		}

		nat := r.FormValue("nat")
		if nat == "" {
			nat = r.FormValue("nationality")
		}
		job, err := cfg.CatalogService.Submit(r.Context(), catalog.SubmitRequest{
			Text:        text,
			ImagePath:   path,
			Gender:      r.FormValue("gender"),
			Nationality: nat,
			Captions:    captions,
			Origin:      catalog.OriginAPI,
		})
		if err != nil {
			os.RemoveAll(dir)
			if apperr.KindOf(err) == apperr.KindInput {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		if cfg.Runner != nil {
			cfg.Runner.Wake()
		}

		base := "/jobs/" + job.ID
		WriteJSON(w, http.StatusAccepted, GenerateResponse{
			JobID:     job.ID,
			Status:    job.Status,
			StatusURL: base,
			VideoURL:  base + "/video",
			EventsURL: base + "/events",
		})
	}
}

// parseSubtitlesField maps the form's subtitles value to a caption mode.
// Booleans are accepted for clients that only toggle captions on or off.
func parseSubtitlesField(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return "", nil
	case "1", "true", "yes", "on":
		return "soft", nil
	case "0", "false", "no", "off", "none":
		return "none", nil
	case "soft", "burned":
		return strings.ToLower(strings.TrimSpace(v)), nil
	}
	return "", fmt.Errorf("subtitles must be none, soft, burned or a boolean, got %q", v)
}

func saveUpload(dir, filename string, src io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	name := SanitizeName(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)), maxUploadName)
	if name == "" || strings.Trim(name, ".") == "" {
		name = "portrait"
	}
	path := filepath.Join(dir, name+ext)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.RemoveAll(dir)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}

// SanitizeName drops control characters, replaces anything outside a small
// safe set with '_' and truncates to maxLen runes.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}
