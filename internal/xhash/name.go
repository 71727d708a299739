package xhash

import "strings"

// NormalizeName upper-cases a file name and turns forward slashes into
// backslashes, the normalization CASC root handlers apply before hashing
// or comparing a name. It is stable regardless of the mix of separators or
// case the caller used:
//
//	NormalizeName(`Data\Foo.bar`) == NormalizeName(`data/foo.bar`) == NormalizeName(`DATA\FOO.BAR`)
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, "/", `\`)
	return strings.ToUpper(name)
}

// HashName normalizes name and returns its Jenkins96 hash, the value
// stored alongside CKeys in WoW-family root name tables.
func HashName(name string) uint64 {
	return Jenkins96([]byte(NormalizeName(name)))
}
