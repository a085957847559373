/*
 * Copyright 2025 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/NearNodeFlash/nnf-diag/internal/common"
	"github.com/NearNodeFlash/nnf-diag/pkg/diag"
	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
	"github.com/NearNodeFlash/nnf-diag/pkg/link"
	"github.com/NearNodeFlash/nnf-diag/pkg/sdb"
)

type DeviceResponse struct {
	inventory.Device
	Connected bool `json:"connected"`
}

type ConnectRequest struct {
	Path string `json:"path"`
}

type MemoryResponse struct {
	Address uint32 `json:"address"`
	Width   int    `json:"width"`
	Value   uint32 `json:"value"`
}

type CaptureResponse struct {
	Capture inventory.Capture `json:"capture"`
	Text    string            `json:"text"`
}

// classify attaches a status code to the failures the handlers know about.
func classify(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, inventory.ErrDeviceNotFound):
		return common.NewHttpError(http.StatusNotFound, err)
	case errors.Is(err, diag.ErrNotConnected), errors.Is(err, sdb.ErrDeviceBusy):
		return common.NewHttpError(http.StatusConflict, err)
	case errors.Is(err, link.ErrDeviceNotSupported), errors.Is(err, link.ErrModeNotSupported),
		errors.Is(err, diag.ErrInvalidTraceLength):
		return common.NewHttpError(http.StatusUnprocessableEntity, err)
	}

	return err
}

func badRequest(format string, a ...interface{}) error {
	return common.NewHttpError(http.StatusBadRequest, fmt.Errorf(format, a...))
}

func (s *Server) device(dev inventory.Device) DeviceResponse {
	_, err := s.diag.Session(dev.ID)
	return DeviceResponse{Device: dev, Connected: err == nil}
}

// DevicesGet -
func (s *Server) DevicesGet(w http.ResponseWriter, r *http.Request) {
	devices := s.diag.Inventory.List()

	model := make([]DeviceResponse, len(devices))
	for i, dev := range devices {
		model[i] = s.device(dev)
	}

	common.EncodeResponse(model, nil, w)
}

// DevicesPost connects the device at the requested path.
func (s *Server) DevicesPost(w http.ResponseWriter, r *http.Request) {
	var model ConnectRequest
	if err := common.UnmarshalRequest(r, &model); err != nil {
		common.EncodeResponse(nil, err, w)
		return
	}

	dev, err := s.diag.Connect(r.Context(), model.Path)
	if err != nil {
		common.EncodeResponse(nil, classify(err), w)
		return
	}

	common.EncodeResponse(s.device(dev), nil, w)
}

// DevicesDeviceIdGet -
func (s *Server) DevicesDeviceIdGet(w http.ResponseWriter, r *http.Request) {
	id := common.Params(r)["DeviceId"]

	dev, err := s.diag.Inventory.Get(id)
	if err != nil {
		common.EncodeResponse(nil, classify(err), w)
		return
	}

	common.EncodeResponse(s.device(dev), nil, w)
}

// DevicesDeviceIdDelete removes the device from the inventory, closing its link.
func (s *Server) DevicesDeviceIdDelete(w http.ResponseWriter, r *http.Request) {
	id := common.Params(r)["DeviceId"]

	common.EncodeResponse(nil, classify(s.diag.Inventory.Remove(id)), w)
}

// DevicesDeviceIdLinkDelete closes the link of the device, leaving it registered.
func (s *Server) DevicesDeviceIdLinkDelete(w http.ResponseWriter, r *http.Request) {
	id := common.Params(r)["DeviceId"]

	common.EncodeResponse(nil, classify(s.diag.Disconnect(id)), w)
}

// DevicesDeviceIdCapturesGet -
func (s *Server) DevicesDeviceIdCapturesGet(w http.ResponseWriter, r *http.Request) {
	id := common.Params(r)["DeviceId"]

	captures, err := s.diag.Inventory.Captures(id)
	if captures == nil {
		captures = []inventory.Capture{}
	}

	common.EncodeResponse(captures, classify(err), w)
}

// DevicesDeviceIdCapturePost reads and decodes the trace buffer of the
// device. With save=true the text is also written to the output directory.
func (s *Server) DevicesDeviceIdCapturePost(w http.ResponseWriter, r *http.Request) {
	id := common.Params(r)["DeviceId"]

	opts := diag.CaptureOptions{}
	if save, _ := strconv.ParseBool(r.URL.Query().Get("save")); save {
		opts.Dir = s.diag.Config.Trace.OutputDir
	}

	result, err := s.diag.Capture(r.Context(), id, opts)
	if err != nil {
		common.EncodeResponse(nil, classify(err), w)
		return
	}

	common.EncodeResponse(CaptureResponse{Capture: result.Capture, Text: string(result.Text)}, nil, w)
}

func parseMemoryRequest(r *http.Request) (string, uint32, sdb.Width, error) {
	params := common.Params(r)

	addr, err := strconv.ParseUint(params["Address"], 0, 32)
	if err != nil {
		return "", 0, 0, badRequest("address '%s': %w", params["Address"], err)
	}

	width := sdb.Dword
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", 0, 0, badRequest("width '%s': %w", v, err)
		}
		if width, err = sdb.ParseWidth(n); err != nil {
			return "", 0, 0, badRequest("%w", err)
		}
	}

	return params["DeviceId"], uint32(addr), width, nil
}

// DevicesDeviceIdMemoryAddressGet reads device memory.
func (s *Server) DevicesDeviceIdMemoryAddressGet(w http.ResponseWriter, r *http.Request) {
	id, addr, width, err := parseMemoryRequest(r)
	if err != nil {
		common.EncodeResponse(nil, err, w)
		return
	}

	sess, err := s.diag.Session(id)
	if err != nil {
		common.EncodeResponse(nil, classify(err), w)
		return
	}

	value, err := sess.Read(r.Context(), addr, width)
	if err != nil {
		common.EncodeResponse(nil, classify(err), w)
		return
	}

	common.EncodeResponse(MemoryResponse{Address: addr, Width: int(width), Value: value}, nil, w)
}

// DevicesDeviceIdMemoryAddressPut writes the value query parameter to
// device memory.
func (s *Server) DevicesDeviceIdMemoryAddressPut(w http.ResponseWriter, r *http.Request) {
	id, addr, width, err := parseMemoryRequest(r)
	if err != nil {
		common.EncodeResponse(nil, err, w)
		return
	}

	v := r.URL.Query().Get("value")
	value, err := strconv.ParseUint(v, 0, int(width)*8)
	if err != nil {
		common.EncodeResponse(nil, badRequest("value '%s': %w", v, err), w)
		return
	}

	sess, err := s.diag.Session(id)
	if err != nil {
		common.EncodeResponse(nil, classify(err), w)
		return
	}

	if err := sess.Write(r.Context(), addr, width, uint32(value)); err != nil {
		common.EncodeResponse(nil, classify(err), w)
		return
	}

	common.EncodeResponse(MemoryResponse{Address: addr, Width: int(width), Value: uint32(value)}, nil, w)
}

// TraceDecodePost decodes the raw trace buffer in the request body and
// responds with the text.
func (s *Server) TraceDecodePost(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		common.EncodeResponse(nil, badRequest("%w", err), w)
		return
	}

	text, err := diag.DecodeTrace(s.diag.Decoder, raw)
	if err != nil {
		common.EncodeResponse(nil, err, w)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write(text); err != nil {
		s.log.WithError(err).Error("Failed to write decoded trace")
	}
}
