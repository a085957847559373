/*
 * Copyright 2020, 2021, 2022, 2025 Hewlett Packard Enterprise Development LP
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

package main

import (
	"flag"
	"fmt"

	"github.com/NearNodeFlash/nnf-diag/internal/kvstore"
	"github.com/NearNodeFlash/nnf-diag/pkg/inventory"
)

func main() {
	var path, prefix string
	flag.StringVar(&path, "path", "nnf-diag.db", "the inventory database to display")
	flag.StringVar(&prefix, "prefix", inventory.RegistryPrefix, "only display keys with this prefix")
	flag.Parse()

	fmt.Printf("Inventory Store Tool. Path: '%s'\n", path)
	store, err := kvstore.Open(path, true)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	registry := &debugRegistry{prefix: prefix}
	store.Register([]kvstore.Registry{registry})

	if err := store.Replay(); err != nil {
		panic(err)
	}

	fmt.Printf("%d keys, %d entries\n", registry.keys, registry.entries)
}

type debugRegistry struct {
	prefix  string
	keys    int
	entries int
}

func (r *debugRegistry) Prefix() string { return r.prefix }

func (r *debugRegistry) NewReplay(id string) kvstore.ReplayHandler {
	r.keys++
	return &debugReplayHandler{registry: r, id: id}
}

type debugReplayHandler struct {
	registry *debugRegistry
	id       string
}

func (rh *debugReplayHandler) Metadata(data []byte) error {
	fmt.Printf("Key %s%s:\n", rh.registry.prefix, rh.id)
	fmt.Printf("|\tMetadata: %s\n", string(data))
	return nil
}

func (rh *debugReplayHandler) Entry(t uint32, data []byte) error {
	rh.registry.entries++
	fmt.Printf("|\t\t%s\n", inventory.Decode(t, data))
	return nil
}

func (rh *debugReplayHandler) Done() error {
	fmt.Printf("|-End %s\n", rh.id)
	return nil
}
