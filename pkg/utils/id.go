package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID returns a random identifier namespaced by prefix, e.g. "bid_3f2c...".
func GenerateID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}
