/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package dtypes includes the DType enum for the data types supported by Tapestry, with
// converters to/from Go native types and the string names used in the persisted model
// format ("float32", "int32", ...).
//
// The set is deliberately small: what the layers API and the reference backend need. New
// backends can extend it.
package dtypes

import (
	"strings"

	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/x448/float16"
)

// DType is the data type of a tensor or symbolic tensor.
type DType int

const (
	// InvalidDType is the zero value, and is not valid for any tensor.
	InvalidDType DType = iota

	// Bool is stored as one byte per element.
	Bool

	// Int32 is the default integer type for labels and indices.
	Int32

	// Float16 is IEEE 754 half-precision, stored via github.com/x448/float16.
	Float16

	// Float32 is the default floating point type.
	Float32

	// Float64 is used mostly for accumulators and tests.
	Float64
)

// MapOfNames maps the external (persisted) names to the DType values. Lookups should go
// through FromString, which is case-insensitive.
var MapOfNames = map[string]DType{
	"bool":    Bool,
	"int32":   Int32,
	"float16": Float16,
	"float32": Float32,
	"float64": Float64,
}

// String returns the external name of the DType, the one used in model JSON and weight
// manifests.
func (dtype DType) String() string {
	switch dtype {
	case Bool:
		return "bool"
	case Int32:
		return "int32"
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return "invalid_dtype"
}

// FromString converts a dtype name to a DType. It panics with a ValueError for unknown
// names, listing the valid ones.
func FromString(name string) DType {
	dtype, found := MapOfNames[strings.ToLower(name)]
	if !found {
		exceptions.PanicValuef("unknown dtype name %q: valid values are %v", name, validNames())
	}
	return dtype
}

func validNames() []string {
	return []string{"bool", "int32", "float16", "float32", "float64"}
}

// Memory returns the number of bytes used to store one element of the DType.
func (dtype DType) Memory() uintptr {
	switch dtype {
	case Bool:
		return 1
	case Float16:
		return 2
	case Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	exceptions.PanicValuef("DType.Memory: invalid dtype %d", int(dtype))
	return 0
}

// IsFloat returns whether the DType is one of the floating point types.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether the DType is an integer type.
func (dtype DType) IsInt() bool {
	return dtype == Int32
}

// Supported is the constraint of Go types that can be converted to a DType.
type Supported interface {
	bool | int32 | float16.Float16 | float32 | float64
}

// FromGenericsType returns the DType corresponding to the Go type parameter.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case bool:
		return Bool
	case int32:
		return Int32
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return InvalidDType
}

// FromAny returns the DType of a Go scalar value, or InvalidDType if the value is not a
// supported scalar.
func FromAny(value any) DType {
	switch value.(type) {
	case bool:
		return Bool
	case int, int32, int64:
		return Int32
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return InvalidDType
}
