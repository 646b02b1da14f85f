package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allbin/busscan"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	events  []busscan.ScanEvent
	devices []busscan.Device
	scanErr error

	loadCmd busscan.LoadConfigCommand
	setCmd  busscan.SetConfigCommand
	values  busscan.ConfigValues
	err     error
}

func (f *fakeService) Scan(ctx context.Context, progress func(busscan.ScanEvent)) ([]busscan.Device, error) {
	for _, ev := range f.events {
		if progress != nil {
			progress(ev)
		}
	}
	return f.devices, f.scanErr
}

func (f *fakeService) LoadConfig(ctx context.Context, cmd busscan.LoadConfigCommand) (busscan.ConfigValues, error) {
	f.loadCmd = cmd
	return f.values, f.err
}

func (f *fakeService) SetConfig(ctx context.Context, cmd busscan.SetConfigCommand) (busscan.ConfigValues, error) {
	f.setCmd = cmd
	return f.values, f.err
}

func (f *fakeService) SetBaudRate(ctx context.Context, dev *busscan.Device, baudRate int) error {
	if f.err != nil {
		return f.err
	}
	dev.Config.BaudRate = baudRate
	return nil
}

func testDevice() busscan.Device {
	return busscan.Device{
		Signature:    "WBMR6C",
		SerialNumber: "4265607",
		Config:       busscan.DeviceConfig{SlaveID: 12, BaudRate: 9600, StopBits: 2, DataBits: 8},
	}
}

func do(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Code != http.StatusOK || strings.HasPrefix(path, "/api") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	srv := New(&fakeService{}, nil)
	rec, _ := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestPorts(t *testing.T) {
	srv := New(&fakeService{}, nil)
	srv.listPorts = func() ([]*busscan.PortInfo, error) {
		return []*busscan.PortInfo{{Path: "/dev/ttyRS485-1", Name: "ttyRS485-1"}}, nil
	}

	rec, resp := do(t, srv, http.MethodGet, "/api/ports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Contains(t, rec.Body.String(), "/dev/ttyRS485-1")
	assert.Equal(t, rec.Header().Get(requestIDHeader), resp.RequestID)
}

func TestScan(t *testing.T) {
	svc := &fakeService{devices: []busscan.Device{testDevice()}}
	srv := New(svc, nil)

	rec, resp := do(t, srv, http.MethodPost, "/api/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 1, data["devices_found"])
}

func TestScanFailure(t *testing.T) {
	svc := &fakeService{scanErr: busscan.ErrMalformedReply}
	srv := New(svc, nil)

	rec, resp := do(t, srv, http.MethodPost, "/api/scan", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "BAD_GATEWAY", resp.Error.Code)
}

func TestLoadConfig(t *testing.T) {
	svc := &fakeService{values: busscan.ConfigValues{"slave_id": 12}}
	srv := New(svc, nil)

	rec, resp := do(t, srv, http.MethodPost, "/api/devices/load-config", gin.H{"slave_id": 12})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, 12, svc.loadCmd.SlaveID)
	assert.Equal(t, busscan.DefaultPortConfig(), svc.loadCmd.Port, "port defaults to 9600 8N2")
}

func TestLoadConfigValidation(t *testing.T) {
	srv := New(&fakeService{}, nil)

	for _, body := range []gin.H{{}, {"slave_id": 0}, {"slave_id": 248}} {
		rec, resp := do(t, srv, http.MethodPost, "/api/devices/load-config", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.False(t, resp.Success)
	}
}

func TestLoadConfigProtocolError(t *testing.T) {
	tests := []struct {
		code   int
		status int
	}{
		{busscan.CodeWrongParam, http.StatusBadRequest},
		{busscan.CodeWrongPort, http.StatusServiceUnavailable},
		{busscan.CodePortIO, http.StatusBadGateway},
		{busscan.CodeTimeout, http.StatusGatewayTimeout},
		{2, http.StatusBadGateway},
	}

	for _, tt := range tests {
		svc := &fakeService{err: busscan.NewProtocolError(tt.code, "failed")}
		srv := New(svc, nil)

		rec, resp := do(t, srv, http.MethodPost, "/api/devices/load-config", gin.H{"slave_id": 1})
		assert.Equal(t, tt.status, rec.Code, "code %d", tt.code)
		require.NotNil(t, resp.Error)
		require.NotNil(t, resp.Error.ProtocolCode)
		assert.Equal(t, tt.code, *resp.Error.ProtocolCode)
	}
}

func TestSetConfig(t *testing.T) {
	svc := &fakeService{values: busscan.ConfigValues{"channels": map[string]int{"K1": 1}}}
	srv := New(svc, nil)

	port := busscan.PortConfig{BaudRate: 19200, DataBits: 8, Parity: busscan.ParityEven, StopBits: 1}
	rec, _ := do(t, srv, http.MethodPost, "/api/devices/set-config", gin.H{
		"port":     port,
		"slave_id": 7,
		"channels": gin.H{"K1": 1},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, port, svc.setCmd.Port)
	assert.Equal(t, 7, svc.setCmd.SlaveID)
	assert.Equal(t, map[string]int{"K1": 1}, svc.setCmd.Channels)

	rec, _ = do(t, srv, http.MethodPost, "/api/devices/set-config", gin.H{"slave_id": 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetBaudRate(t *testing.T) {
	srv := New(&fakeService{}, nil)

	rec, resp := do(t, srv, http.MethodPost, "/api/devices/baud-rate", gin.H{
		"device":    testDevice(),
		"baud_rate": 115200,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	cfg := data["cfg"].(map[string]any)
	assert.EqualValues(t, 115200, cfg["baud_rate"])
}

func TestSetBaudRatePending(t *testing.T) {
	srv := New(&fakeService{err: busscan.ErrRequestPending}, nil)

	rec, _ := do(t, srv, http.MethodPost, "/api/devices/baud-rate", gin.H{
		"device":    testDevice(),
		"baud_rate": 115200,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func dialScan(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/scan/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readAll(t *testing.T, conn *websocket.Conn) []WSMessage {
	t.Helper()
	var msgs []WSMessage
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			require.True(t, errors.As(err, &closeErr), "unexpected error: %v", err)
			assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

func TestScanStream(t *testing.T) {
	dev := testDevice()
	svc := &fakeService{
		events: []busscan.ScanEvent{
			{Index: 0, BaudRate: 115200, Mode: busscan.ScanStart},
			{Index: 1, BaudRate: 57600, Mode: busscan.ScanStart},
			{Index: 2, BaudRate: 38400, Mode: busscan.ScanStart, Found: []busscan.Device{dev}},
			{Index: 2, BaudRate: 38400, Mode: busscan.ScanNext},
			{Index: 3, BaudRate: 19200, Mode: busscan.ScanStart, Err: busscan.NewProtocolError(busscan.CodePortIO, "io")},
		},
		devices: []busscan.Device{dev},
	}
	conn := dialScan(t, New(svc, nil))

	msgs := readAll(t, conn)
	require.Len(t, msgs, len(svc.events)+1)

	for i, ev := range svc.events {
		assert.Equal(t, msgProgress, msgs[i].Type)
		data := msgs[i].Data.(map[string]any)
		assert.EqualValues(t, ev.Index, data["index"])
		assert.EqualValues(t, ev.BaudRate, data["baud_rate"])
		assert.Equal(t, string(ev.Mode), data["mode"])
	}
	assert.Contains(t, msgs[4].Data.(map[string]any)["error"], "io")

	last := msgs[len(msgs)-1]
	assert.Equal(t, msgResult, last.Type)
	assert.EqualValues(t, 1, last.Data.(map[string]any)["devices_found"])
}

func TestScanStreamError(t *testing.T) {
	svc := &fakeService{
		events:  []busscan.ScanEvent{{Index: 0, BaudRate: 115200, Mode: busscan.ScanStart}},
		scanErr: busscan.ErrMalformedReply,
	}
	conn := dialScan(t, New(svc, nil))

	msgs := readAll(t, conn)
	require.Len(t, msgs, 2)
	assert.Equal(t, msgProgress, msgs[0].Type)
	assert.Equal(t, msgError, msgs[1].Type)
	assert.Contains(t, msgs[1].Data.(map[string]any)["message"], "malformed")
}
