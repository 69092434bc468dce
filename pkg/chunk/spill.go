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

import (
	"github.com/daviszhen/chunksort/pkg/util"
)

// SpillToFile stages a host-resident chunk on disk as its packed wire
// image: length, image, then a checksum over the image. Cold run
// chunks can be spilled between merge passes and reloaded on demand.
func SpillToFile(fpath string, c *Chunk, params Params, alloc util.BytesAllocator) error {
	buf := Pack(c, params, alloc)
	defer alloc.Free(buf)
	sum := util.Checksum(util.BytesSliceToPointer(buf), uint64(len(buf)))

	serial, err := util.NewFileSerialize(fpath)
	if err != nil {
		return err
	}
	defer serial.Close()
	if err = util.Write[uint64](uint64(len(buf)), serial); err != nil {
		return err
	}
	if err = serial.WriteData(buf, len(buf)); err != nil {
		return err
	}
	return util.Write[uint64](sum, serial)
}

// LoadFromFile rebuilds a spilled chunk. A checksum mismatch means the
// image was corrupted on disk and surfaces as a data format error.
func LoadFromFile(fpath string, alloc util.BytesAllocator) (*Chunk, Params, error) {
	deserial, err := util.NewFileDeserialize(fpath)
	if err != nil {
		return nil, Params{}, err
	}
	defer deserial.Close()

	var imgLen uint64
	if err = util.Read[uint64](&imgLen, deserial); err != nil {
		return nil, Params{}, err
	}
	buf := alloc.Alloc(int(imgLen))
	if err = deserial.ReadData(buf, int(imgLen)); err != nil {
		return nil, Params{}, err
	}
	var sum uint64
	if err = util.Read[uint64](&sum, deserial); err != nil {
		return nil, Params{}, err
	}
	if sum != util.Checksum(util.BytesSliceToPointer(buf), imgLen) {
		return nil, Params{}, ErrDataFormat
	}
	return Unpack(buf, alloc)
}
