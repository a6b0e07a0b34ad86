package controllers

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/converter"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/entitlements"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/usercontext"
)

func newConvertApp(t *testing.T, user usercontext.UserContext, trials *memoryTrials) (*fiber.App, *converter.Processor) {
	t.Helper()
	store := converter.NewMemoryJobStore(time.Minute)
	proc := converter.NewProcessor(2, store, store.Results(), nil)
	t.Cleanup(proc.Stop)

	cc := NewConvertController(proc, trials, nil)
	app := newTestApp()
	app.Use(asUser(user))
	app.Get("/api/formats", cc.HandleFormats)
	app.Post("/api/convert", cc.HandleConvert)
	app.Post("/api/inspect", cc.HandleInspect)
	app.Post("/api/jobs", cc.HandleSubmitJob)
	app.Get("/api/jobs/:id", cc.HandleJobStatus)
	app.Get("/api/jobs/:id/result", cc.HandleJobResult)
	return app, proc
}

func TestConvertAnonymousTrialThenPaywall(t *testing.T) {
	trials := newMemoryTrials()
	app, _ := newConvertApp(t, anonymousUser, trials)
	input := testPNG(t, 64, 48)

	resp, err := app.Test(multipartRequest(t, "/api/convert", "holiday photo.png", input, map[string]string{"format": "jpg"}), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, `attachment; filename="holiday_photo.jpg"`, resp.Header.Get(fiber.HeaderContentDisposition))
	assert.Equal(t, "64", resp.Header.Get("X-Image-Width"))

	body, _ := io.ReadAll(resp.Body)
	_, format, err := image.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.True(t, trials.isUsed(anonymousUser.VisitorID))

	resp, err = app.Test(multipartRequest(t, "/api/convert", "again.png", input, map[string]string{"format": "png"}), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.Equal(t, "payment_required", out["error"])
	paywall := out["paywall"].(map[string]any)
	assert.Equal(t, "upgrade", paywall["banner"])
	assert.Equal(t, false, paywall["can_convert"])
}

func TestConvertSignedInTrialIsPerUser(t *testing.T) {
	trials := newMemoryTrials()
	trials.used[freeUser.VisitorID] = true
	app, _ := newConvertApp(t, freeUser, trials)

	resp, err := app.Test(multipartRequest(t, "/api/convert", "a.png", testPNG(t, 8, 8), map[string]string{"format": "webp"}), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, trials.isUsed(freeUser.UserID))
}

func TestConvertFailureDoesNotConsumeTrial(t *testing.T) {
	trials := newMemoryTrials()
	app, _ := newConvertApp(t, anonymousUser, trials)

	resp, err := app.Test(multipartRequest(t, "/api/convert", "notes.txt", []byte("definitely not an image"), map[string]string{"format": "png"}), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, "unsupported_format", decodeJSON(t, resp)["error"])
	assert.False(t, trials.isUsed(anonymousUser.VisitorID))
}

func TestConvertRejectsDecompressionBomb(t *testing.T) {
	trials := newMemoryTrials()
	app, _ := newConvertApp(t, anonymousUser, trials)

	// IHDR-only PNG declaring 40000x40000 pixels in a few dozen bytes.
	ihdr := make([]byte, 17)
	copy(ihdr, "IHDR")
	binary.BigEndian.PutUint32(ihdr[4:], 40000)
	binary.BigEndian.PutUint32(ihdr[8:], 40000)
	ihdr[12], ihdr[13] = 8, 6
	bomb := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0d")
	bomb = append(bomb, ihdr...)
	bomb = binary.BigEndian.AppendUint32(bomb, crc32.ChecksumIEEE(ihdr))

	resp, err := app.Test(multipartRequest(t, "/api/convert", "bomb.png", bomb, map[string]string{"format": "jpg"}), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "image_too_large", decodeJSON(t, resp)["error"])
	assert.False(t, trials.isUsed(anonymousUser.VisitorID))
}

func TestConvertProSkipsTrial(t *testing.T) {
	trials := newMemoryTrials()
	trials.used[proUser.UserID] = true
	app, _ := newConvertApp(t, proUser, trials)

	for i := 0; i < 2; i++ {
		req := multipartRequest(t, "/api/convert", "a.png", testPNG(t, 20, 10),
			map[string]string{"format": "gif", "scale": "3", "upscale": "ai-enhanced"})
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/gif", resp.Header.Get(fiber.HeaderContentType))
		assert.Equal(t, "60", resp.Header.Get("X-Image-Width"))
		assert.Equal(t, "30", resp.Header.Get("X-Image-Height"))
	}
}

func TestConvertPlanRestrictions(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]string
		status int
		code   string
	}{
		{"pro format", map[string]string{"format": "tiff"}, fiber.StatusForbidden, "format_not_allowed"},
		{"pro upscale", map[string]string{"format": "png", "scale": "2", "upscale": "lanczos"}, fiber.StatusForbidden, "upscale_not_allowed"},
		{"unknown format", map[string]string{"format": "psd"}, fiber.StatusBadRequest, "invalid_format"},
		{"bad quality", map[string]string{"format": "jpeg", "quality": "400"}, fiber.StatusBadRequest, "invalid_options"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trials := newMemoryTrials()
			app, _ := newConvertApp(t, anonymousUser, trials)

			resp, err := app.Test(multipartRequest(t, "/api/convert", "a.png", testPNG(t, 8, 8), tc.fields), -1)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, decodeJSON(t, resp)["error"])
			assert.False(t, trials.isUsed(anonymousUser.VisitorID))
		})
	}
}

func TestConvertFreeOutputIsClampedToPlanEdge(t *testing.T) {
	app, _ := newConvertApp(t, anonymousUser, newMemoryTrials())

	req := multipartRequest(t, "/api/convert", "a.png", testPNG(t, 100, 50),
		map[string]string{"format": "png", "width": "5000"})
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "2048", resp.Header.Get("X-Image-Width"))
	assert.Equal(t, "1024", resp.Header.Get("X-Image-Height"))
}

func TestConvertUploadErrors(t *testing.T) {
	app, _ := newConvertApp(t, anonymousUser, newMemoryTrials())

	resp, err := app.Test(multipartRequest(t, "/api/convert", "", nil, map[string]string{"format": "png"}), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing_file", decodeJSON(t, resp)["error"])

	big := make([]byte, entitlements.MaxUploadBytes(entitlements.PlanFree)+1)
	resp, err = app.Test(multipartRequest(t, "/api/convert", "big.png", big, map[string]string{"format": "png"}), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "file_too_large", decodeJSON(t, resp)["error"])
}

func TestConvertTrialStoreUnavailable(t *testing.T) {
	trials := newMemoryTrials()
	trials.err = errRedisDown
	app, _ := newConvertApp(t, anonymousUser, trials)

	resp, err := app.Test(multipartRequest(t, "/api/convert", "a.png", testPNG(t, 8, 8), map[string]string{"format": "png"}), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "trial_unavailable", decodeJSON(t, resp)["error"])
}

func TestHandleFormats(t *testing.T) {
	app, _ := newConvertApp(t, anonymousUser, newMemoryTrials())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/formats", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	out := decodeJSON(t, resp)

	assert.Equal(t, "free", out["plan"])
	assert.Contains(t, out["input_formats"], "heic")
	outputs := out["output_formats"].(map[string]any)
	assert.ElementsMatch(t, []any{"jpeg", "png", "webp"}, outputs["free"])
	assert.Contains(t, outputs["pro"], "avif")
	upscale := out["upscale_methods"].(map[string]any)
	assert.ElementsMatch(t, []any{"bicubic", "lanczos", "ai-enhanced"}, upscale["pro"])
}

func TestHandleInspect(t *testing.T) {
	app, _ := newConvertApp(t, anonymousUser, newMemoryTrials())

	resp, err := app.Test(multipartRequest(t, "/api/inspect", "a.png", testPNG(t, 30, 20), nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.Equal(t, "png", out["format"])
	assert.EqualValues(t, 30, out["width"])
	assert.EqualValues(t, 20, out["height"])
	assert.Equal(t, true, out["decodable"])
}

func TestAsyncJobLifecycle(t *testing.T) {
	app, proc := newConvertApp(t, proUser, newMemoryTrials())

	resp, err := app.Test(multipartRequest(t, "/api/jobs", "a.png", testPNG(t, 40, 40), map[string]string{"format": "webp", "width": "20"}), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	jobID, _ := decodeJSON(t, resp)["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		st, err := proc.Status(context.Background(), jobID)
		return err == nil && st.State == converter.STATUS_COMPLETED
	}, 5*time.Second, 20*time.Millisecond)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	st := decodeJSON(t, resp)
	assert.Equal(t, "completed", st["state"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID+"/result", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/webp", resp.Header.Get(fiber.HeaderContentType))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, []byte("RIFF"), body[:4])
}

func TestAsyncJobsAreOwnerScoped(t *testing.T) {
	store := converter.NewMemoryJobStore(time.Minute)
	proc := converter.NewProcessor(1, store, store.Results(), nil)
	t.Cleanup(proc.Stop)

	id, err := proc.Submit("someone_else", testPNG(t, 8, 8), converter.Options{Format: "png"})
	require.NoError(t, err)

	cc := NewConvertController(proc, newMemoryTrials(), nil)
	app := newTestApp()
	app.Use(asUser(proUser))
	app.Get("/api/jobs/:id", cc.HandleJobStatus)
	app.Get("/api/jobs/:id/result", cc.HandleJobResult)

	for _, path := range []string{"/api/jobs/" + id, "/api/jobs/" + id + "/result", "/api/jobs/missing"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode, path)
	}
}

func TestSubmitJobRequiresPro(t *testing.T) {
	app, _ := newConvertApp(t, freeUser, newMemoryTrials())

	resp, err := app.Test(multipartRequest(t, "/api/jobs", "a.png", testPNG(t, 8, 8), map[string]string{"format": "png"}), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)
}

// stubProcessor returns canned results for the error paths a real pool
// cannot produce on demand.
type stubProcessor struct {
	convertErr error
	status     *converter.JobStatus
}

func (s *stubProcessor) Convert(context.Context, []byte, converter.Options) (*converter.Result, error) {
	return nil, s.convertErr
}

func (s *stubProcessor) Submit(string, []byte, converter.Options) (string, error) {
	return "", s.convertErr
}

func (s *stubProcessor) Status(context.Context, string) (*converter.JobStatus, error) {
	if s.status == nil {
		return nil, converter.ErrJobNotFound
	}
	return s.status, nil
}

func (s *stubProcessor) Result(context.Context, string) ([]byte, *converter.JobStatus, error) {
	if s.status.State != converter.STATUS_COMPLETED {
		return nil, s.status, converter.ErrJobNotReady
	}
	return []byte("data"), s.status, nil
}

func TestJobResultNotReady(t *testing.T) {
	stub := &stubProcessor{status: &converter.JobStatus{ID: "job1", Owner: proUser.UserID, State: converter.STATUS_PROCESSING, Progress: 50}}
	cc := NewConvertController(stub, newMemoryTrials(), nil)
	app := newTestApp()
	app.Use(asUser(proUser))
	app.Get("/api/jobs/:id/result", cc.HandleJobResult)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/jobs/job1/result", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.Equal(t, "job_not_ready", out["error"])
	assert.Equal(t, "processing", out["state"])
	assert.EqualValues(t, 50, out["progress"])
}

func TestConvertErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{converter.ErrHEICUnsupported, fiber.StatusUnsupportedMediaType, "heic_unsupported"},
		{converter.ErrAVIFUnsupported, fiber.StatusUnsupportedMediaType, "avif_unsupported"},
		{converter.ErrImageTooLarge, fiber.StatusRequestEntityTooLarge, "image_too_large"},
		{converter.ErrFormatUnavailable, fiber.StatusUnprocessableEntity, "format_unavailable"},
		{context.DeadlineExceeded, fiber.StatusGatewayTimeout, "conversion_timeout"},
		{converter.ErrQueueFull, fiber.StatusServiceUnavailable, "busy"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			cc := NewConvertController(&stubProcessor{convertErr: tc.err}, newMemoryTrials(), nil)
			app := newTestApp()
			app.Use(asUser(proUser))
			app.Post("/api/convert", cc.HandleConvert)

			resp, err := app.Test(multipartRequest(t, "/api/convert", "a.heic", []byte("x"), map[string]string{"format": "png"}), -1)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, decodeJSON(t, resp)["error"])
		})
	}
}

func TestOutputFilename(t *testing.T) {
	assert.Equal(t, "IMG_0001.webp", outputFilename("IMG_0001.HEIC", converter.FormatWebP))
	assert.Equal(t, "image.png", outputFilename("", converter.FormatPNG))
	assert.Equal(t, "passwd.jpg", outputFilename("../../etc/passwd", converter.FormatJPEG))
	assert.Equal(t, "a_b.tiff", outputFilename(`a"b;.bmp`, converter.FormatTIFF))
}
