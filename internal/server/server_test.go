package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NearNodeFlash/nnf-diag/internal/common"
	"github.com/NearNodeFlash/nnf-diag/internal/config"
	"github.com/NearNodeFlash/nnf-diag/pkg/diag"
	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
	"github.com/NearNodeFlash/nnf-diag/pkg/trace"
)

func newServer(t *testing.T) (*Server, *httptest.Server) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Link.WaitTimeout = config.Duration(20 * time.Millisecond)
	cfg.Trace.OutputDir = t.TempDir()

	c, err := diag.Init(diag.Options{Config: cfg, Logger: logrus.New(), Mock: true})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	s := New(c)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return s, ts
}

func do(t *testing.T, method, url string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)

	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { rsp.Body.Close() })

	return rsp
}

func decode(t *testing.T, rsp *http.Response, model interface{}) {
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(model))
}

func connect(t *testing.T, ts *httptest.Server) DeviceResponse {
	rsp := do(t, POST_METHOD, ts.URL+"/devices", strings.NewReader(`{"path": "mock0"}`))
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var dev DeviceResponse
	decode(t, rsp, &dev)
	return dev
}

func TestDevices(t *testing.T) {
	_, ts := newServer(t)

	dev := connect(t, ts)
	assert.True(t, dev.Connected)
	assert.Equal(t, "mock0", dev.Path)
	assert.EqualValues(t, diag.MockIdentity, dev.Identity)

	var devices []DeviceResponse
	decode(t, do(t, GET_METHOD, ts.URL+"/devices", nil), &devices)
	require.Len(t, devices, 1)
	assert.Equal(t, dev.ID, devices[0].ID)

	rsp := do(t, DELETE_METHOD, ts.URL+"/devices/"+dev.ID+"/link", nil)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	var got DeviceResponse
	decode(t, do(t, GET_METHOD, ts.URL+"/devices/"+dev.ID, nil), &got)
	assert.Equal(t, dev.ID, got.ID)
	assert.False(t, got.Connected)

	rsp = do(t, DELETE_METHOD, ts.URL+"/devices/"+dev.ID+"/link", nil)
	assert.Equal(t, http.StatusConflict, rsp.StatusCode)

	rsp = do(t, DELETE_METHOD, ts.URL+"/devices/"+dev.ID, nil)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	rsp = do(t, GET_METHOD, ts.URL+"/devices/"+dev.ID, nil)
	assert.Equal(t, http.StatusNotFound, rsp.StatusCode)
}

func TestConnectBadRequest(t *testing.T) {
	_, ts := newServer(t)

	rsp := do(t, POST_METHOD, ts.URL+"/devices", strings.NewReader(`{"path":`))
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
}

func TestMemory(t *testing.T) {
	s, ts := newServer(t)
	dev := connect(t, ts)

	base := ts.URL + "/devices/" + dev.ID + "/memory/"

	var mem MemoryResponse
	decode(t, do(t, GET_METHOD, base+"0xF0000004", nil), &mem)
	assert.EqualValues(t, diag.MockIdentity, mem.Value)
	assert.Equal(t, 4, mem.Width)

	rsp := do(t, PUT_METHOD, base+"0x1000?width=2&value=0xBEEF", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.EqualValues(t, 0xBEEF, s.diag.Mock.Peek32(0x1000))

	decode(t, do(t, GET_METHOD, base+"0x1000?width=1", nil), &mem)
	assert.EqualValues(t, 0xEF, mem.Value)

	rsp = do(t, GET_METHOD, base+"0x1000?width=3", nil)
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)

	rsp = do(t, GET_METHOD, base+"nowhere", nil)
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)

	rsp = do(t, PUT_METHOD, base+"0x1000?width=1&value=0x100", nil)
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)

	rsp = do(t, GET_METHOD, ts.URL+"/devices/unknown/memory/0x0", nil)
	assert.Equal(t, http.StatusConflict, rsp.StatusCode)
}

func TestMemoryTimeout(t *testing.T) {
	s, ts := newServer(t)
	dev := connect(t, ts)

	s.diag.Mock.DropReplies = 100

	rsp := do(t, GET_METHOD, ts.URL+"/devices/"+dev.ID+"/memory/0x0", nil)
	assert.Equal(t, http.StatusGatewayTimeout, rsp.StatusCode)

	var e common.ErrorResponse
	decode(t, rsp, &e)
	assert.Equal(t, "ProtocolTimeout", e.Kind)
}

func TestCapture(t *testing.T) {
	s, ts := newServer(t)
	dev := connect(t, ts)

	rsp := do(t, POST_METHOD, ts.URL+"/devices/"+dev.ID+"/capture?save=true", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var capture CaptureResponse
	decode(t, rsp, &capture)
	assert.Equal(t, 5, capture.Capture.Lines)
	assert.True(t, capture.Capture.Changed)
	assert.Contains(t, capture.Text, "link up on port 24 width x16\n")
	assert.Contains(t, capture.Capture.Output, s.diag.Config.Trace.OutputDir)

	var captures []inventory.Capture
	decode(t, do(t, GET_METHOD, ts.URL+"/devices/"+dev.ID+"/captures", nil), &captures)
	assert.Len(t, captures, 1)

	rsp = do(t, POST_METHOD, ts.URL+"/devices/unknown/capture", nil)
	assert.Equal(t, http.StatusConflict, rsp.StatusCode)
}

func TestTraceDecode(t *testing.T) {
	_, ts := newServer(t)

	raw := new(trace.Builder).
		AddTable(3, 0xFFFFFFFF, "hello %s").
		AddRecord(3, 0, 0x1F).
		Bytes()

	rsp := do(t, POST_METHOD, ts.URL+"/trace/decode", bytes.NewReader(raw))
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	text, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello 0x1f\n", string(text))

	rsp = do(t, POST_METHOD, ts.URL+"/trace/decode", strings.NewReader("garbage"))
	assert.Equal(t, http.StatusUnprocessableEntity, rsp.StatusCode)

	var e common.ErrorResponse
	decode(t, rsp, &e)
	assert.Equal(t, "MalformedHeader", e.Kind)
}

func TestMetrics(t *testing.T) {
	_, ts := newServer(t)
	connect(t, ts)

	rsp := do(t, GET_METHOD, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "nnf_diag_sdb_commands_total")
}

func TestServeShutdown(t *testing.T) {
	s, _ := newServer(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		rsp, err := http.Get("http://" + listener.Addr().String() + "/devices")
		if err != nil {
			return false
		}
		rsp.Body.Close()
		return rsp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
