package camera

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localHostRequest creates a request that passes tsweb's debug access check.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes(t *testing.T) {
	c := newTestCamera(t, newFakeBackend())
	mux := http.NewServeMux()
	c.AttachAdminRoutes(mux)

	t.Run("no frame yet", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/camera-frame.pgm", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	require.NoError(t, c.StartRecording(true))
	require.Eventually(t, func() bool { return c.Frames() > 0 }, 2*time.Second, time.Millisecond)
	require.NoError(t, c.StopRecording())

	t.Run("status", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/camera", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp statusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "idle", resp.State)
		require.NotNil(t, resp.Session)
		assert.True(t, resp.Session.Async)
		assert.Positive(t, resp.Stats.Delivered)
	})

	t.Run("properties", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/camera-properties", nil))
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, `"name": "sensor-width"`)
		assert.Contains(t, body, `"value": 8`)
	})

	t.Run("set", func(t *testing.T) {
		form := url.Values{"name": {"fake-gain"}, "value": {"7"}}
		req := localHostRequest(http.MethodPost, "/debug/camera-set", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		v, err := c.Get("fake-gain")
		require.NoError(t, err)
		assert.Equal(t, uint64(7), v.Uint())

		form = url.Values{"name": {PropSensorWidth}, "value": {"7"}}
		req = localHostRequest(http.MethodPost, "/debug/camera-set", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w = httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("frame", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/camera-frame.pgm", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.HasPrefix(w.Body.String(), "P5\n8 4\n255\n"))
		assert.Len(t, w.Body.Bytes(), len("P5\n8 4\n255\n")+fakeWidth*fakeHeight)
	})

	t.Run("intervals", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/camera-intervals", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Inter-frame interval")
	})
}
