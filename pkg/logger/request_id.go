package logger

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var counter uint64

// GenerateRequestID generates a sortable unique request ID
// Format: timestamp-counter-random, e.g. 20240501203015-000042-9f1c2a
func GenerateRequestID() string {
	count := atomic.AddUint64(&counter, 1)
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s-%06d-%s", time.Now().Format("20060102150405"), count%1000000, random)
}
