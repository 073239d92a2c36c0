package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns an opaque id such as "shp_3f0c9a2e41d84b3c9f5e2b7a1d6c8e90".
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
