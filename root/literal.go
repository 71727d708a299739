package root

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/lukegb/casc/keyindex"
)

// ParseLiteralFileDataID recognises the "FILE########[.ext]" synthetic
// name, returning the decoded file-data-id. Storage resolves such names
// through the handler's GetByID whatever the root variant; the WoW6,
// WoW8, MNDX and TVFS GetByName methods also accept them.
func ParseLiteralFileDataID(name string) (uint32, bool) {
	base := name
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if len(base) != 12 || !strings.EqualFold(base[:4], "FILE") {
		return 0, false
	}
	v, err := strconv.ParseUint(base[4:], 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// ParseLiteralCKey recognises a bare 32-hex-digit name as a literal key.
// Storage looks such a name up as a CKey, then as an EKey, before
// asking the root handler; the handlers themselves do not call it.
func ParseLiteralCKey(name string) (keyindex.CKey, bool) {
	base := name
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if len(base) != 32 {
		return keyindex.CKey{}, false
	}
	b, err := hex.DecodeString(base)
	if err != nil {
		return keyindex.CKey{}, false
	}
	return keyindex.CKeyFromBytes(b), true
}
