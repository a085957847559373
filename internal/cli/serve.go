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

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/NearNodeFlash/nnf-diag/internal/server"
	"github.com/NearNodeFlash/nnf-diag/pkg/diag"
)

// ServeCmd runs the REST diagnostics server until interrupted.
type ServeCmd struct {
	Address string   `optional:"" help:"Listen address. Overrides the configuration."`
	Connect []string `optional:"" help:"Devices to connect before serving."`
}

func (cmd *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(g, func(c *diag.Context) error {
		if cmd.Address != "" {
			c.Config.Server.Address = cmd.Address
		}

		for _, path := range cmd.Connect {
			if _, err := c.Connect(ctx, path); err != nil {
				return err
			}
		}

		return server.New(c).ListenAndServe(ctx)
	})
}
