package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/entitlements"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/usercontext"
)

var (
	anonymousUser = usercontext.UserContext{VisitorID: "visitor-1", Plan: entitlements.PlanFree}
	freeUser      = usercontext.UserContext{UserID: "user_free", IsLoggedIn: true, VisitorID: "visitor-2", Plan: entitlements.PlanFree}
	proUser       = usercontext.UserContext{UserID: "user_pro", IsLoggedIn: true, VisitorID: "visitor-3", Plan: entitlements.PlanPro}
)

// asUser installs a fixed user context the way SessionMiddleware would.
func asUser(u usercontext.UserContext) fiber.Handler {
	return func(c *fiber.Ctx) error {
		usercontext.SetUserContext(c, u)
		return c.Next()
	}
}

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{BodyLimit: 64 << 20})
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target, filename string, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set(fiber.HeaderContentType, mw.FormDataContentType())
	return req
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func signStripePayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts.Unix())))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

var errRedisDown = errors.New("redis: connection refused")

// memoryTrials is a trial.Store with an optional forced failure.
type memoryTrials struct {
	mu   sync.Mutex
	used map[string]bool
	err  error
}

func newMemoryTrials() *memoryTrials {
	return &memoryTrials{used: map[string]bool{}}
}

func (m *memoryTrials) IsUsed(_ context.Context, subject string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.used[subject], nil
}

func (m *memoryTrials) MarkUsed(_ context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.used[subject] = true
	return nil
}

func (m *memoryTrials) Reset(_ context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.used, subject)
	return nil
}

func (m *memoryTrials) isUsed(subject string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[subject]
}
