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

package sdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

var ErrDeviceBusy = errors.New("device is in use by another session")

// LockDir is where the per-device lock files are created.
var LockDir = os.TempDir()

// DeviceLock is an exclusive advisory lock on a device path. Only one session
// may hold a device at a time.
type DeviceLock struct {
	file *os.File
}

func lockPath(path string) string {
	name := strings.TrimPrefix(filepath.Clean(path), string(filepath.Separator))
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	return filepath.Join(LockDir, fmt.Sprintf("nnf-diag-%s.lock", name))
}

// LockDevice takes the lock for path without blocking.
func LockDevice(path string) (*DeviceLock, error) {
	f, err := os.OpenFile(lockPath(path), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrDeviceBusy)
		}
		return nil, err
	}

	return &DeviceLock{file: f}, nil
}

// Release drops the lock. It is safe to call more than once.
func (l *DeviceLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	l.file = nil

	return err
}
