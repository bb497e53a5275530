package match

import "time"

// Live matches are JSON blobs in Redis with a safety TTL well past any real
// game length. Terminal records move to Postgres and the blob is left to
// expire.
const liveTTL = 24 * time.Hour

// deadlineKey is a ZSET of in-progress match ids scored by turn deadline,
// swept by the janitor.
const deadlineKey = "match:deadlines"

// settleRetryKey is a ZSET of completed match ids whose stake transfer
// failed, scored by failure time. The janitor re-runs these; settlement is
// idempotent per match so a retry can never double-transfer.
const settleRetryKey = "match:settle_retry"

func liveKey(id string) string { return "match:live:" + id }

func userKey(userID string) string { return "match:user:" + userID }
