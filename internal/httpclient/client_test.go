package httpclient

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockedClient returns a client whose transport is replaced by httpmock
func newMockedClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client := New(cfg)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(func() {
		httpmock.DeactivateAndReset()
		client.Close()
	})
	return client
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil config", func(t *testing.T) {
		t.Parallel()
		client := New(nil)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
	})

	t.Run("zero values use defaults", func(t *testing.T) {
		t.Parallel()
		client := New(&Config{Username: "admin"})
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
		assert.Equal(t, "admin", client.username)
	})

	t.Run("custom values", func(t *testing.T) {
		t.Parallel()
		client := New(&Config{DefaultTimeout: 5 * time.Second, UserAgent: "probe/1.0"})
		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "probe/1.0", client.userAgent)
	})
}

func TestGet_HeadersAndAuth(t *testing.T) {
	client := newMockedClient(t, &Config{Username: "user", Password: "secret"})

	httpmock.RegisterResponder(http.MethodGet, "http://cam.local/sdcard/record/",
		func(req *http.Request) (*http.Response, error) {
			user, pass, ok := req.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "user", user)
			assert.Equal(t, "secret", pass)
			assert.Equal(t, defaultUserAgent, req.Header.Get("User-Agent"))
			return httpmock.NewStringResponse(http.StatusOK, "listing"), nil
		})

	resp, err := client.Get(t.Context(), "http://cam.local/sdcard/record/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, "listing", string(body))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestGet_NoAuthWithoutPassword(t *testing.T) {
	client := newMockedClient(t, &Config{Username: "user"})

	httpmock.RegisterResponder(http.MethodGet, "http://cam.local/x",
		func(req *http.Request) (*http.Response, error) {
			_, _, ok := req.BasicAuth()
			assert.False(t, ok)
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	resp, err := client.Get(t.Context(), "http://cam.local/x")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
}

func TestDo_Hooks(t *testing.T) {
	client := newMockedClient(t, nil)
	httpmock.RegisterResponder(http.MethodGet, "http://cam.local/a", httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	var before, after atomic.Int32
	var status atomic.Int32
	client.SetBeforeRequestHook(func(*http.Request) { before.Add(1) })
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error, _ time.Duration) {
		after.Add(1)
		if err == nil {
			status.Store(int32(resp.StatusCode))
		}
	})

	resp, err := client.Get(t.Context(), "http://cam.local/a")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
	assert.Equal(t, int32(http.StatusNotFound), status.Load())
}

func TestDo_TransportError(t *testing.T) {
	client := newMockedClient(t, nil)
	httpmock.RegisterResponder(http.MethodGet, "http://cam.local/down", httpmock.NewErrorResponder(context.DeadlineExceeded))

	_, err := client.Get(t.Context(), "http://cam.local/down")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_DefaultTimeoutApplied(t *testing.T) {
	client := newMockedClient(t, &Config{DefaultTimeout: time.Minute})

	httpmock.RegisterResponder(http.MethodGet, "http://cam.local/t",
		func(req *http.Request) (*http.Response, error) {
			deadline, ok := req.Context().Deadline()
			assert.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	resp, err := client.Get(context.Background(), "http://cam.local/t")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
}

func TestDo_NilRequest(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Do(t.Context(), nil)
	require.Error(t, err)
}
