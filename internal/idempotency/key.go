package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"example.com/userexports/internal/domain"
)

// DeriveKey returns a stable dispatch key for a job. The same request handed
// to a dispatcher twice maps to the same key, so it is queued at most once.
// The key is a hex-encoded SHA-256 so it has a fixed length whatever the
// consumer id looks like.
func DeriveKey(job domain.Job) string {
	composite := fmt.Sprintf("%s|%s|%s|%s", job.Type, job.ConsumerID, job.OutputFilename, job.ID)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}
