package common

import (
	"fmt"

	"github.com/govalues/decimal"
)

// Value is the host-side representation of one column value,
// used by row/column sources and tests.
type Value struct {
	Typ TypeId
	I32 int32
	I64 int64
	F64 float64
	// decimal coefficient + scale, rebuilt via govalues on demand
	Coef  int64
	Scale int
	Str   string
}

func I32Value(v int32) Value {
	return Value{Typ: TID_INT32, I32: v}
}

func I64Value(v int64) Value {
	return Value{Typ: TID_INT64, I64: v}
}

func F64Value(v float64) Value {
	return Value{Typ: TID_FLOAT64, F64: v}
}

func DecValue(coef int64, scale int) Value {
	return Value{Typ: TID_DECIMAL, Coef: coef, Scale: scale}
}

func StrValue(s string) Value {
	return Value{Typ: TID_VARCHAR, Str: s}
}

func (val Value) String() string {
	switch val.Typ {
	case TID_INT32:
		return fmt.Sprintf("%d", val.I32)
	case TID_INT64:
		return fmt.Sprintf("%d", val.I64)
	case TID_FLOAT64:
		return fmt.Sprintf("%v", val.F64)
	case TID_DECIMAL:
		d, err := decimal.New(val.Coef, val.Scale)
		if err != nil {
			panic(err)
		}
		return d.String()
	case TID_VARCHAR:
		return val.Str
	default:
		panic("usp")
	}
}
