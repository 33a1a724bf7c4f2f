// Package utils provides small helpers shared by the relay packages.
package utils

import "math/rand/v2"

var lowercase = []byte("abcdefghijklmnopqrstuvwxyz")

// GetRandomElement returns a randomly chosen element from the given slice.
// The slice must be non-empty; otherwise the function panics.
//
// Parameters:
//   - arr: The slice to pick from (must have at least one element)
//
// Returns:
//   - A random element of type T from the slice
func GetRandomElement[T any](arr []T) T {
	return arr[rand.IntN(len(arr))]
}

// RandomLowercaseLetter returns one letter from a to z.
func RandomLowercaseLetter() byte {
	return GetRandomElement(lowercase)
}
