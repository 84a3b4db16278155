// Package keygen issues the short numeric keys users exchange for content.
//
// The key space (nine decimal digits) is large enough to make collisions
// rare but not impossible, so every issued key is provisional until the
// content registry confirms uniqueness on insert. Callers retry with a fresh
// key on a duplicate.
package keygen

import (
	"math/rand/v2"
	"strconv"
)

const (
	keyMin = 100_000_000
	keyMax = 999_999_999
)

// Generator produces access keys.
type Generator struct{}

func New() *Generator {
	return &Generator{}
}

// Issue returns a fresh nine-digit key. The result is provisional: only a
// successful registry create proves it unique.
func (g *Generator) Issue() string {
	return strconv.FormatInt(keyMin+rand.Int64N(keyMax-keyMin+1), 10)
}
