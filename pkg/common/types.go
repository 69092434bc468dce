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

package common

type TypeId int

const (
	TID_INVALID TypeId = iota
	TID_INT32
	TID_INT64
	TID_FLOAT64
	TID_DECIMAL
	TID_VARCHAR
	// synthetic columns appended by the chunk builder
	TID_RECID
	TID_INDEX
)

// slot width of the type inside a sort chunk column.
// varchar slots hold a toast reference {offset uint64, length uint32, pad}.
// decimal slots hold {coef int64, scale int32, pad}.
func (tid TypeId) Size() int {
	switch tid {
	case TID_INT32:
		return 4
	case TID_INT64:
		return 8
	case TID_FLOAT64:
		return 8
	case TID_DECIMAL:
		return 16
	case TID_VARCHAR:
		return 16
	case TID_RECID:
		return 8
	case TID_INDEX:
		return 4
	default:
		panic("usp")
	}
}

func (tid TypeId) String() string {
	switch tid {
	case TID_INT32:
		return "int32"
	case TID_INT64:
		return "int64"
	case TID_FLOAT64:
		return "float64"
	case TID_DECIMAL:
		return "decimal"
	case TID_VARCHAR:
		return "varchar"
	case TID_RECID:
		return "recid"
	case TID_INDEX:
		return "index"
	default:
		return "invalid"
	}
}

// Varlen reports whether the column payload lives in the toast arena.
func (tid TypeId) Varlen() bool {
	return tid == TID_VARCHAR
}
