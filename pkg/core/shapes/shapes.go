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

// Package shapes defines the Shape type, a dtype plus a list of dimensions.
//
// Unlike a concrete array shape, a Shape used during symbolic graph construction can carry
// unknown dimensions (UnknownDim, -1), typically the batch size. Concrete tensors always
// have fully defined shapes.
//
// Example:
//
//	s := shapes.Make(dtypes.Float32, shapes.UnknownDim, 5)  // (float32)[?, 5]
//	s.Rank()             // 2
//	s.Dim(-1)            // 5
//	s.IsFullyDefined()   // false
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
)

// UnknownDim is the value used for dimensions not yet known, e.g. the batch size of a
// symbolic input.
const UnknownDim = -1

// Shape represents the shape of a tensor or the expected shape of a symbolic tensor.
//
// Use Make to create one. The zero value is invalid (Ok() == false).
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions. Dimensions must be positive or
// UnknownDim, anything else panics with a ValueError.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 && dim != UnknownDim {
			exceptions.PanicValuef("shapes.Make(%s, %v): dimensions must be positive or UnknownDim (-1)",
				dtype, dimensions)
		}
	}
	return s
}

// Scalar returns a rank-0 shape of the given Go type.
func Scalar[T dtypes.Supported]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Invalid returns an invalid Shape: Invalid().Ok() == false.
func Invalid() Shape { return Shape{DType: dtypes.InvalidDType} }

// Ok returns whether this is a valid Shape.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, the number of dimensions. Scalars have rank 0.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axis counts from the end, so
// Dim(-1) is the last dimension. Out-of-bounds axes panic with a ValueError.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.PanicValuef("Shape.Dim(%d): out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjusted]
}

// Size returns the number of elements, the product of all dimensions. It panics with a
// ValueError if the shape has unknown dimensions.
func (s Shape) Size() int {
	size := 1
	for _, d := range s.Dimensions {
		if d == UnknownDim {
			exceptions.PanicValuef("Shape.Size: shape %s has unknown dimensions", s)
		}
		size *= d
	}
	return size
}

// Memory returns the bytes needed to store an array of this shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// IsFullyDefined reports whether no dimension is UnknownDim.
func (s Shape) IsFullyDefined() bool {
	return !slices.Contains(s.Dimensions, UnknownDim)
}

// Equal compares dtype and dimensions exactly, unknown dimensions only match unknown.
func (s Shape) Equal(other Shape) bool {
	return s.DType == other.DType && slices.Equal(s.Dimensions, other.Dimensions)
}

// Compatible reports whether the two shapes could describe the same concrete array:
// same dtype, same rank, and every pair of dimensions equal or at least one unknown.
func (s Shape) Compatible(other Shape) bool {
	if s.DType != other.DType || s.Rank() != other.Rank() {
		return false
	}
	for ii, dim := range s.Dimensions {
		otherDim := other.Dimensions[ii]
		if dim != otherDim && dim != UnknownDim && otherDim != UnknownDim {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// HasShape is anything that can report its Shape: tensors, symbolic tensors and Shape
// itself.
type HasShape interface {
	Shape() Shape
}

// String implements fmt.Stringer, printing unknown dimensions as "?".
func (s Shape) String() string {
	if !s.Ok() {
		return "(invalid shape)"
	}
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		if dim == UnknownDim {
			parts = append(parts, "?")
		} else {
			parts = append(parts, fmt.Sprintf("%d", dim))
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, ", "))
}
