// Package codec is a type-driven binary encoding.
//
// Composites are written field by field in declaration order. Scalars are fixed width and
// big-endian, strings are zero terminated, arrays carry no count, slices carry a 32-bit count,
// pointers and Optional values carry a presence byte, and any type implementing Validator is
// checked after it has been decoded.
package codec
