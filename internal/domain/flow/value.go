// Package flow defines the durable data model for the flow engine: flow
// instances, step instances, branches, and the typed values that flow
// through a flow's data context.
package flow

import (
	"fmt"
	"strconv"
	"time"
)

// ValueKind tags the dynamic type carried by a Value.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindInt    ValueKind = "int"
	KindDecimal ValueKind = "decimal"
	KindBool   ValueKind = "bool"
	KindTime   ValueKind = "time"
	KindList   ValueKind = "list"
	KindMap    ValueKind = "map"
	KindBlob   ValueKind = "blob"
)

// Decimal is a fixed-point number represented as an integer coefficient
// multiplied by 10^Exp (so Exp -2 means hundredths). Financial quantities (balances, fees, amounts) use this
// instead of float64 to avoid silent precision loss across retries and
// snapshot round-trips.
type Decimal struct {
	Coefficient int64
	Exp         int32
}

// Float64 returns the decimal's approximate floating point value, for
// display and condition evaluation only; never use it to recompute a
// persisted amount.
func (d Decimal) Float64() float64 {
	f := float64(d.Coefficient)
	for i := int32(0); i < d.Exp; i++ {
		f *= 10
	}
	for i := int32(0); i > d.Exp; i-- {
		f /= 10
	}
	return f
}

func (d Decimal) String() string {
	return strconv.FormatFloat(d.Float64(), 'f', -1, 64)
}

// NewDecimal builds a Decimal from a coefficient and exponent, e.g.
// NewDecimal(15099, -2) == 150.99.
func NewDecimal(coefficient int64, exp int32) Decimal {
	return Decimal{Coefficient: coefficient, Exp: exp}
}

// Value is a tagged union of the primitive, structured, and opaque types a
// data context entry may hold. SchemaTag identifies the logical type for
// dataDependencies validation (e.g. "money.amount", "kyc.documentId") and is
// independent of Kind, which is the wire-level representation.
type Value struct {
	Kind      ValueKind   `json:"kind"`
	SchemaTag string      `json:"schemaTag,omitempty"`
	Str       string      `json:"str,omitempty"`
	Int       int64       `json:"int,omitempty"`
	Dec       *Decimal    `json:"dec,omitempty"`
	Bool      bool        `json:"bool,omitempty"`
	Time      *time.Time  `json:"time,omitempty"`
	List      []Value     `json:"list,omitempty"`
	Map       map[string]Value `json:"map,omitempty"`
	Blob      []byte      `json:"blob,omitempty"`
}

func StringValue(schemaTag, s string) Value { return Value{Kind: KindString, SchemaTag: schemaTag, Str: s} }
func IntValue(schemaTag string, i int64) Value { return Value{Kind: KindInt, SchemaTag: schemaTag, Int: i} }
func DecimalValue(schemaTag string, d Decimal) Value { return Value{Kind: KindDecimal, SchemaTag: schemaTag, Dec: &d} }
func BoolValue(schemaTag string, b bool) Value { return Value{Kind: KindBool, SchemaTag: schemaTag, Bool: b} }
func TimeValue(schemaTag string, t time.Time) Value { return Value{Kind: KindTime, SchemaTag: schemaTag, Time: &t} }
func ListValue(schemaTag string, vs []Value) Value { return Value{Kind: KindList, SchemaTag: schemaTag, List: vs} }
func MapValue(schemaTag string, m map[string]Value) Value { return Value{Kind: KindMap, SchemaTag: schemaTag, Map: m} }
func BlobValue(schemaTag string, b []byte) Value { return Value{Kind: KindBlob, SchemaTag: schemaTag, Blob: b} }

// MatchesSchema reports whether this value satisfies a declared data
// dependency's expected kind and schema tag.
func (v Value) MatchesSchema(expectedKind ValueKind, expectedTag string) bool {
	if v.Kind != expectedKind {
		return false
	}
	if expectedTag != "" && v.SchemaTag != expectedTag {
		return false
	}
	return true
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindDecimal:
		if v.Dec != nil {
			return v.Dec.String()
		}
		return "0"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindTime:
		if v.Time != nil {
			return v.Time.Format(time.RFC3339)
		}
		return ""
	default:
		return fmt.Sprintf("<%s>", v.Kind)
	}
}
