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

// Package server hosts the diagnostics REST API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/NearNodeFlash/nnf-diag/pkg/diag"
)

var (
	GET_METHOD    = strings.ToUpper("Get")
	POST_METHOD   = strings.ToUpper("Post")
	PUT_METHOD    = strings.ToUpper("Put")
	DELETE_METHOD = strings.ToUpper("Delete")
)

const defaultShutdownTimeout = 5 * time.Second

// Route
type Route struct {
	Name        string
	Method      string
	Path        string
	HandlerFunc http.HandlerFunc
}

// Routes -
type Routes []Route

// Server serves the devices of a diagnostics context over HTTP.
type Server struct {
	diag *diag.Context
	log  *log.Entry
}

func New(c *diag.Context) *Server {
	return &Server{
		diag: c,
		log:  c.Log.WithField("component", "server"),
	}
}

// Routes -
func (s *Server) Routes() Routes {
	return Routes{
		{
			Name:        "DevicesGet",
			Method:      GET_METHOD,
			Path:        "/devices",
			HandlerFunc: s.DevicesGet,
		},
		{
			Name:        "DevicesPost",
			Method:      POST_METHOD,
			Path:        "/devices",
			HandlerFunc: s.DevicesPost,
		},
		{
			Name:        "DevicesDeviceIdGet",
			Method:      GET_METHOD,
			Path:        "/devices/{DeviceId}",
			HandlerFunc: s.DevicesDeviceIdGet,
		},
		{
			Name:        "DevicesDeviceIdDelete",
			Method:      DELETE_METHOD,
			Path:        "/devices/{DeviceId}",
			HandlerFunc: s.DevicesDeviceIdDelete,
		},
		{
			Name:        "DevicesDeviceIdLinkDelete",
			Method:      DELETE_METHOD,
			Path:        "/devices/{DeviceId}/link",
			HandlerFunc: s.DevicesDeviceIdLinkDelete,
		},
		{
			Name:        "DevicesDeviceIdCapturesGet",
			Method:      GET_METHOD,
			Path:        "/devices/{DeviceId}/captures",
			HandlerFunc: s.DevicesDeviceIdCapturesGet,
		},
		{
			Name:        "DevicesDeviceIdCapturePost",
			Method:      POST_METHOD,
			Path:        "/devices/{DeviceId}/capture",
			HandlerFunc: s.DevicesDeviceIdCapturePost,
		},
		{
			Name:        "DevicesDeviceIdMemoryAddressGet",
			Method:      GET_METHOD,
			Path:        "/devices/{DeviceId}/memory/{Address}",
			HandlerFunc: s.DevicesDeviceIdMemoryAddressGet,
		},
		{
			Name:        "DevicesDeviceIdMemoryAddressPut",
			Method:      PUT_METHOD,
			Path:        "/devices/{DeviceId}/memory/{Address}",
			HandlerFunc: s.DevicesDeviceIdMemoryAddressPut,
		},
		{
			Name:        "TraceDecodePost",
			Method:      POST_METHOD,
			Path:        "/trace/decode",
			HandlerFunc: s.TraceDecodePost,
		},
		{
			Name:        "MetricsGet",
			Method:      GET_METHOD,
			Path:        "/metrics",
			HandlerFunc: promhttp.HandlerFor(s.diag.Registry, promhttp.HandlerOpts{}).ServeHTTP,
		},
	}
}

// Handler returns the routes wrapped in the CORS policy of the configuration.
func (s *Server) Handler() http.Handler {
	m := mux.NewRouter().StrictSlash(true)

	for _, route := range s.Routes() {
		m.
			Name(route.Name).
			Methods(route.Method).
			Path(route.Path).
			Handler(route.HandlerFunc)
	}

	origins := s.diag.Config.Server.AllowedOrigins
	if len(origins) == 0 {
		return m
	}

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{GET_METHOD, POST_METHOD, PUT_METHOD, DELETE_METHOD},
	}).Handler(m)
}

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.diag.Config.Server.Address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.log.Infof("Diagnostics server listening on %s", listener.Addr())
		errs <- srv.Serve(listener)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	timeout := s.diag.Config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("Diagnostics server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
