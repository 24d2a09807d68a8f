package shared

import (
	"encoding/hex"

	"github.com/satori/go.uuid"
)

type StringGenerator struct {
}

// GenerateObjectId returns a fresh 24-character lowercase hex identifier,
// the id shape every entity in the system uses.
func (n *StringGenerator) GenerateObjectId() string {
	id := uuid.NewV4()
	return hex.EncodeToString(id.Bytes())[:24]
}
