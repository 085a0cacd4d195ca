package client_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallery-pipeline/internal/client"
	"gallery-pipeline/internal/models"
)

func TestUpload_StreamsMultipartWithProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 50_000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/uploads", r.URL.Path)
		assert.Positive(t, r.ContentLength)

		file, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, payload, data)
		assert.Equal(t, "dune.jpg", hdr.Filename)
		assert.Equal(t, "image/jpeg", hdr.Header.Get("Content-Type"))
		assert.Equal(t, "4000", r.FormValue("width"))

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"uploadId":"abc-123"}`))
	}))
	defer srv.Close()

	var (
		mu    sync.Mutex
		last  client.Progress
		calls int
	)
	res, err := client.New(srv.URL, nil).Upload(context.Background(), client.UploadRequest{
		Filename:    "dune.jpg",
		ContentType: "image/jpeg",
		Body:        bytes.NewReader(payload),
		Size:        int64(len(payload)),
		Fields:      map[string]string{"width": "4000", "height": "3000"},
	}, func(p client.Progress) {
		mu.Lock()
		defer mu.Unlock()
		assert.GreaterOrEqual(t, p.Sent, last.Sent)
		assert.GreaterOrEqual(t, p.BytesPerSecond, 0.0)
		last = p
		calls++
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", res.UploadID)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, calls, 1)
	assert.Equal(t, last.Total, last.Sent)
	assert.Greater(t, last.Total, int64(len(payload)))
}

func TestUpload_MissingIDDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`<html>ok</html>`))
	}))
	defer srv.Close()

	res, err := client.New(srv.URL, nil).Upload(context.Background(), client.UploadRequest{
		Filename: "a.png",
		Body:     strings.NewReader("png"),
		Size:     3,
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.UploadID)
}

func TestUpload_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_upload","message":"invalid upload: width: is required"}`))
	}))
	defer srv.Close()

	_, err := client.New(srv.URL, nil).Upload(context.Background(), client.UploadRequest{
		Filename: "a.png",
		Body:     strings.NewReader("png"),
		Size:     3,
	}, nil)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid_upload", apiErr.Code)
}

func TestClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a b", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`{"status":"completed"}`))
	}))
	defer srv.Close()

	st, err := client.New(srv.URL+"/", nil).Status(context.Background(), "a b")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st)
}

// statusServer answers every poll with the status returned by next.
func statusServer(t *testing.T, next func(call int32) string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if st := next(n); st != "" {
			_, _ = w.Write([]byte(`{"status":"` + st + `"}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

type recorder struct {
	mu    sync.Mutex
	notes []client.Notification
}

func (r *recorder) add(n client.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) all() []client.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]client.Notification(nil), r.notes...)
}

func fastPoller(srv *httptest.Server) *client.Poller {
	p := client.NewPoller(client.New(srv.URL, nil))
	p.Interval = time.Millisecond
	return p
}

func TestPoller_StopsOnTerminal(t *testing.T) {
	srv, calls := statusServer(t, func(n int32) string {
		if n < 3 {
			return "processing"
		}
		return "completed"
	})

	rec := &recorder{}
	st, err := fastPoller(srv).Wait(context.Background(), "job", rec.add)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st)
	assert.Equal(t, int32(3), calls.Load())

	notes := rec.all()
	require.Len(t, notes, 2)
	assert.Equal(t, models.StatusProcessing, notes[0].Status)
	assert.Equal(t, models.StatusCompleted, notes[1].Status)
	assert.Equal(t, 3, notes[1].Attempt)
}

func TestPoller_ExhaustedBudgetReportsFailed(t *testing.T) {
	srv, calls := statusServer(t, func(int32) string { return "processing" })

	p := fastPoller(srv)
	require.Equal(t, 120, p.MaxAttempts)
	require.Equal(t, 2*time.Second, client.DefaultPollInterval)

	rec := &recorder{}
	st, err := p.Wait(context.Background(), "job", rec.add)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, st)
	assert.Equal(t, int32(120), calls.Load())

	notes := rec.all()
	require.Len(t, notes, 2)
	assert.Equal(t, models.StatusFailed, notes[1].Status)
	assert.True(t, notes[1].Exhausted)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(120), calls.Load(), "no polling after giving up")
}

func TestPoller_UnknownAndErrorsCountAsAttempts(t *testing.T) {
	srv, calls := statusServer(t, func(n int32) string {
		if n%2 == 0 {
			return ""
		}
		return "unknown"
	})

	p := fastPoller(srv)
	p.MaxAttempts = 6
	st, err := p.Wait(context.Background(), "job", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, st)
	assert.Equal(t, int32(6), calls.Load())
}

func TestPoller_Cancel(t *testing.T) {
	srv, calls := statusServer(t, func(int32) string { return "processing" })

	p := fastPoller(srv)
	p.Interval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	rec := &recorder{}
	done := make(chan error, 1)
	go func() {
		_, err := p.Wait(ctx, "job", rec.add)
		done <- err
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}

	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
	require.Len(t, rec.all(), 1, "only the initial processing notification")
}
