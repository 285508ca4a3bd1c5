// SPDX-License-Identifier: MIT

package job

import (
	"strings"

	"github.com/google/uuid"
)

func hexID(n int) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}

// NewID generates a fresh type-prefixed job id, e.g. "qcf-3f9a1b2c4d5e".
func NewID(t Type) string {
	switch t {
	case TypeQuickCreate:
		return "qc-" + hexID(12)
	case TypeFullUniverse:
		return "qcf-" + hexID(12)
	case TypeCompose:
		return "compose-" + hexID(12)
	case TypeTTS:
		return "tts-" + hexID(12)
	}
	return hexID(12)
}

// SiblingID generates one of the short satellite ids minted alongside a
// full-universe job ("ep", "sr", "ch").
func SiblingID(prefix string) string {
	return prefix + "-" + hexID(8)
}
