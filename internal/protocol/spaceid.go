package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// DomainSpaceID separates reducer-source hashes from any other hash use.
const DomainSpaceID = "syncreducer/space/v1"

// DefaultSpaceID derives a stable, human-debuggable space name from a
// reducer's source text, e.g. "reducer1234567890". Two clients built from the
// same reducer source land in the same space. It plays no part in ordering
// or reconciliation.
func DefaultSpaceID(reducerSource string) string {
	h := sha256.New()
	h.Write([]byte(DomainSpaceID))
	h.Write([]byte{0x00})
	h.Write([]byte(norm.NFC.String(reducerSource)))
	sum := h.Sum(nil)
	return fmt.Sprintf("reducer%d", binary.BigEndian.Uint32(sum[:4]))
}
