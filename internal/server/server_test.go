package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/audio"
	"github.com/artigo/echolens/internal/config"
	"github.com/artigo/echolens/internal/metrics"
	"github.com/artigo/echolens/internal/service"
	"github.com/artigo/echolens/internal/session"
)

type fakeService struct {
	cfg       *config.Config
	status    *service.Status
	statusErr error
	sources   []audio.Source
}

func (f *fakeService) Run(context.Context) error { return nil }

func (f *fakeService) GetStatus(context.Context) (*service.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeService) ListSources(context.Context) ([]audio.Source, error) {
	return f.sources, nil
}

func (f *fakeService) ListRecordings() ([]service.RecordingFile, error) {
	return service.ListRecordings(f.cfg.Output.Directory)
}

func (f *fakeService) RecordingPath(name string) (string, error) {
	return service.RecordingPath(f.cfg.Output.Directory, name)
}

func (f *fakeService) GetConfig() *config.Config { return f.cfg }
func (f *fakeService) GetLastError() string      { return "" }

func newTestServer(t *testing.T) (*fakeService, *metrics.Collector, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()
	svc := &fakeService{
		cfg: &cfg,
		status: &service.Status{
			State:    service.StateRecording,
			Sessions: []session.Info{{MicName: "USB Mic", TriggerApp: "Firefox", RefCount: 1}},
		},
		sources: []audio.Source{{ID: 31, Name: "usb-mic", MediaClass: "Audio/Source"}},
	}
	collector := metrics.NewCollector()
	return svc, collector, New(svc, collector, zap.NewNop().Sugar(), ":0").Router()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleStatus(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "RECORDING", resp.Status)
	assert.Equal(t, "Recording USB Mic for Firefox", resp.Message)
	require.Len(t, resp.Details.Sessions, 1)
}

func TestHandleStatus_Error(t *testing.T) {
	svc, _, h := newTestServer(t)
	svc.status, svc.statusErr = nil, errors.New("busy")

	rec := get(t, h, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestHandleSources(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := get(t, h, "/sources")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SourcesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "usb-mic", resp.Sources[0].Name)
}

func TestHandleFilesAndDownload(t *testing.T) {
	svc, _, h := newTestServer(t)
	name := "2024-03-09_14-05-07_mic_by_app.wav"
	require.NoError(t, os.WriteFile(filepath.Join(svc.cfg.Output.Directory, name), []byte("RIFFdata"), 0644))

	rec := get(t, h, "/api/files")
	require.Equal(t, http.StatusOK, rec.Code)
	var files FilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Equal(t, 1, files.TotalCount)
	assert.Equal(t, "/api/files/download/"+name, files.Files[0].DownloadURL)

	rec = get(t, h, files.Files[0].DownloadURL)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RIFFdata", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), name)
}

func TestHandleFileDownload_EscapedName(t *testing.T) {
	svc, _, h := newTestServer(t)
	name := "2024-03-09_14-05-07_Mic#2_by_50%app.wav"
	require.NoError(t, os.WriteFile(filepath.Join(svc.cfg.Output.Directory, name), []byte("RIFFdata"), 0644))

	var files FilesResponse
	require.NoError(t, json.Unmarshal(get(t, h, "/api/files").Body.Bytes(), &files))
	require.Len(t, files.Files, 1)

	rec := get(t, h, files.Files[0].DownloadURL)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RIFFdata", rec.Body.String())
}

func TestHandleFileDownload_Rejections(t *testing.T) {
	_, _, h := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/files/download/missing.wav").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/files/download/script.sh").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/files/download/..%2Fetc.wav").Code)
}

func TestHandleConfig(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := get(t, h, "/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"AppName":"PipeWire-Auto-Recorder-Internal"`)
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, h := newTestServer(t)
	get(t, h, "/status")

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `echolens_http_requests_total{method="GET",route="/status",status="200"} 1`)
}

func TestServe_StopsOnCancel(t *testing.T) {
	svc, collector, _ := newTestServer(t)
	srv := New(svc, collector, zap.NewNop().Sugar(), "127.0.0.1:0")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/status")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}
