package auditor

import (
	"encoding/hex"
	"strings"
)

// decodeNodeIDHex best-effort decodes a "0x"-prefixed node identity hex
// string from a trace. A malformed identity degrades to an all-zero
// NodeIdentity rather than dropping the TransferFailure row entirely: the
// failure itself is still worth recording even if its sender cannot be
// resolved precisely.
func decodeNodeIDHex(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
