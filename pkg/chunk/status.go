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

package chunk

import "errors"

// StatusCode is the per-chunk status word written back after every
// stage. Codes are ordered by severity so that concurrent workers can
// record the worst one observed.
type StatusCode int32

const (
	StatusSuccess StatusCode = iota
	StatusNoSpace
	StatusDataFormat
	StatusMemoryFault
)

var (
	ErrNoSpace     = errors.New("destination chunk out of space")
	ErrDataFormat  = errors.New("source value not convertible to column layout")
	ErrMemoryFault = errors.New("device memory fault")
	ErrChunkFailed = errors.New("chunk is in failed status")
)

func (s StatusCode) Err() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusNoSpace:
		return ErrNoSpace
	case StatusDataFormat:
		return ErrDataFormat
	case StatusMemoryFault:
		return ErrMemoryFault
	default:
		return ErrChunkFailed
	}
}

func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNoSpace:
		return "nospace"
	case StatusDataFormat:
		return "dataformat"
	case StatusMemoryFault:
		return "memoryfault"
	default:
		return "unknown"
	}
}
