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

	"github.com/NearNodeFlash/nnf-diag/internal/config"
	"github.com/NearNodeFlash/nnf-diag/internal/logging"
	"github.com/NearNodeFlash/nnf-diag/pkg/diag"
	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
	"github.com/NearNodeFlash/nnf-diag/pkg/sdb"
)

func run(g *Globals, f func(*diag.Context) error) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return err
	}

	if g.Database != "" {
		cfg.Inventory.Path = g.Database
	}

	logger := logging.NewLogger(logging.Options{
		Level: g.LogLevel(),
		JSON:  g.Json,
		Out:   g.stderr(),
	})

	c, err := diag.Init(diag.Options{Config: cfg, Logger: logger, Mock: g.Mock})
	if err != nil {
		return err
	}
	defer c.Close()

	return f(c)
}

// runDevice connects the device at path and hands its link to f.
func runDevice(ctx context.Context, g *Globals, path string, f func(*diag.Context, inventory.Device, *sdb.Session) error) error {
	return run(g, func(c *diag.Context) error {
		dev, err := c.Connect(ctx, path)
		if err != nil {
			return err
		}

		sess, err := c.Session(dev.ID)
		if err != nil {
			return err
		}

		return f(c, dev, sess)
	})
}
