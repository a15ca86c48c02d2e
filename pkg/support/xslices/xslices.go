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

// Package xslices provides missing functionality to the standard slices package.
package xslices

import (
	"golang.org/x/exp/constraints"
)

// At takes an element at the given index, where index can be negative, in which case it
// takes from the end of the slice.
func At[T any](slice []T, index int) T {
	if index < 0 {
		index = len(slice) + index
	}
	return slice[index]
}

// Last returns the last element of a slice.
func Last[T any](slice []T) T {
	return At(slice, -1)
}

// Map applies fn to each element of in, returning a new slice with the results.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Fill returns a new slice of the given size filled with the given value.
func Fill[T any](size int, value T) (slice []T) {
	slice = make([]T, size)
	for ii := range slice {
		slice[ii] = value
	}
	return
}

// Iota returns a new slice [start, start+1, ..., start+size-1].
func Iota[T constraints.Integer | constraints.Float](start T, size int) (slice []T) {
	slice = make([]T, size)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Max returns the largest element of the slice. It panics on an empty slice.
func Max[T constraints.Ordered](slice []T) (max T) {
	max = slice[0]
	for _, value := range slice[1:] {
		if value > max {
			max = value
		}
	}
	return
}

// ArgMax returns the index of the largest element of the slice, the first one if there are
// ties. It panics on an empty slice.
func ArgMax[T constraints.Ordered](slice []T) (argMax int) {
	for ii, value := range slice[1:] {
		if value > slice[argMax] {
			argMax = ii + 1
		}
	}
	return
}

// IndexOf returns the index of the first occurrence of value, or -1 if absent.
func IndexOf[T comparable](slice []T, value T) int {
	for ii, e := range slice {
		if e == value {
			return ii
		}
	}
	return -1
}

// Sum adds up all elements of the slice.
func Sum[T constraints.Integer | constraints.Float](slice []T) (sum T) {
	for _, value := range slice {
		sum += value
	}
	return
}
