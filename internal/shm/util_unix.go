//go:build unix

/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
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

package shm

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

const devShmDir = "/dev/shm"

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DefaultDir returns /dev/shm when it is a usable directory and the system
// temporary directory otherwise.
func DefaultDir() string {
	if info, err := os.Stat(devShmDir); err == nil && info.IsDir() {
		return devShmDir
	}
	return os.TempDir()
}

// canCreateOnDevShm reports whether size bytes still fit on /dev/shm.
// Paths elsewhere always report true.
func canCreateOnDevShm(size uint64, path string) bool {
	if runtime.GOOS != "linux" || !strings.HasPrefix(filepath.Clean(path), devShmDir+"/") {
		return true
	}
	stat, err := disk.Usage(devShmDir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}

func regionPath(dir, osName string) string {
	return filepath.Join(dir, baseName(osName))
}

func semPath(dir, osName string) string {
	return filepath.Join(dir, "sem."+baseName(osName))
}
