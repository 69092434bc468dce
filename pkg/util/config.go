// Copyright 2024-2025 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"runtime"

	"github.com/BurntSushi/toml"
)

type EngineOptions struct {
	// rows per sort chunk. rounded up to a power of two.
	ChunkCapacity int `toml:"chunkCapacity"`
	// bytes per toast arena
	ToastCapacity int `toml:"toastCapacity"`
	// max chunks resident on the device at once
	WindowSize int `toml:"windowSize"`
	// workers in the device pool. 0 means GOMAXPROCS
	Workers int `toml:"workers"`
}

type DebugOptions struct {
	PrintResult  bool   `toml:"printResult"`
	PrintExplain bool   `toml:"printExplain"`
	LogLevel     string `toml:"logLevel"`
}

type Config struct {
	Engine EngineOptions `toml:"engine"`
	Debug  DebugOptions  `toml:"debug"`
}

const (
	DefaultChunkCapacity = 1 << 14
	DefaultToastCapacity = 1 << 22
	DefaultWindowSize    = 5
	MinWindowSize        = 4
)

func (cfg *Config) Validate() {
	eng := &cfg.Engine
	if eng.ChunkCapacity <= 0 {
		eng.ChunkCapacity = DefaultChunkCapacity
	}
	eng.ChunkCapacity = int(NextPowerOfTwo(uint64(eng.ChunkCapacity)))
	if eng.ToastCapacity <= 0 {
		eng.ToastCapacity = DefaultToastCapacity
	}
	if eng.WindowSize < MinWindowSize {
		eng.WindowSize = DefaultWindowSize
	}
	if eng.Workers <= 0 {
		eng.Workers = runtime.GOMAXPROCS(0)
	}
}

func LoadConfig(fpath string, cfg *Config) error {
	_, err := toml.DecodeFile(fpath, cfg)
	if err != nil {
		return err
	}
	cfg.Validate()
	return nil
}
