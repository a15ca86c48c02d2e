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

package tensors

import (
	"encoding/binary"
	"math"

	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/x448/float16"
)

// Bytes returns the tensor contents as a little-endian byte buffer, the encoding used for
// the weights blob in saved model artifacts. Bool uses one byte per element, Float16 its
// IEEE 754 binary16 bits.
func (t *Tensor) Bytes() []byte {
	t.AssertValid()
	buf := make([]byte, t.shape.Memory())
	switch flat := t.flat.(type) {
	case []bool:
		for ii, v := range flat {
			if v {
				buf[ii] = 1
			}
		}
	case []int32:
		for ii, v := range flat {
			binary.LittleEndian.PutUint32(buf[ii*4:], uint32(v))
		}
	case []float16.Float16:
		for ii, v := range flat {
			binary.LittleEndian.PutUint16(buf[ii*2:], uint16(v))
		}
	case []float32:
		for ii, v := range flat {
			binary.LittleEndian.PutUint32(buf[ii*4:], math.Float32bits(v))
		}
	case []float64:
		for ii, v := range flat {
			binary.LittleEndian.PutUint64(buf[ii*8:], math.Float64bits(v))
		}
	}
	return buf
}

// FromBytes decodes a little-endian byte buffer (see Tensor.Bytes) into a new Tensor of
// the given shape. The buffer length must match the shape's memory size exactly.
func FromBytes(shape shapes.Shape, buf []byte) *Tensor {
	if uintptr(len(buf)) != shape.Memory() {
		exceptions.PanicValuef("tensors.FromBytes: shape %s requires %d bytes, got %d",
			shape, shape.Memory(), len(buf))
	}
	t := Zeros(shape)
	switch flat := t.flat.(type) {
	case []bool:
		for ii := range flat {
			flat[ii] = buf[ii] != 0
		}
	case []int32:
		for ii := range flat {
			flat[ii] = int32(binary.LittleEndian.Uint32(buf[ii*4:]))
		}
	case []float16.Float16:
		for ii := range flat {
			flat[ii] = float16.Float16(binary.LittleEndian.Uint16(buf[ii*2:]))
		}
	case []float32:
		for ii := range flat {
			flat[ii] = math.Float32frombits(binary.LittleEndian.Uint32(buf[ii*4:]))
		}
	case []float64:
		for ii := range flat {
			flat[ii] = math.Float64frombits(binary.LittleEndian.Uint64(buf[ii*8:]))
		}
	default:
		exceptions.PanicValuef("tensors.FromBytes: unsupported dtype %s", shape.DType)
	}
	return t
}

// CastTo returns a copy of the tensor converted to the given dtype. Booleans convert to 0/1.
func (t *Tensor) CastTo(dtype dtypes.DType) *Tensor {
	t.AssertValid()
	if dtype == t.DType() {
		return t.Clone()
	}
	newShape := shapes.Make(dtype, t.shape.Dimensions...)
	out := Zeros(newShape)
	values := t.Float64Slice()
	switch flat := out.flat.(type) {
	case []bool:
		for ii, v := range values {
			flat[ii] = v != 0
		}
	case []int32:
		for ii, v := range values {
			flat[ii] = int32(v)
		}
	case []float16.Float16:
		for ii, v := range values {
			flat[ii] = float16.Fromfloat32(float32(v))
		}
	case []float32:
		for ii, v := range values {
			flat[ii] = float32(v)
		}
	case []float64:
		copy(flat, values)
	}
	return out
}
