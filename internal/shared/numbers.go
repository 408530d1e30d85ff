package shared

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateNumber returns PREFIX-YYYYMMDD-XXXXXXXX for documents created
// without a caller supplied number.
func GenerateNumber(prefix string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return prefix + "-" + time.Now().UTC().Format("20060102") + "-" + suffix
}
