package store

import (
	"math"
	"time"
)

// statusDistributionSQL is portable across both engines: window functions
// are available in Postgres and in SQLite 3.25+.
const statusDistributionSQL = `
WITH latest AS (
	SELECT package_id, status,
	       ROW_NUMBER() OVER (PARTITION BY package_id ORDER BY event_timestamp DESC) AS rn
	FROM events
)
SELECT status, COUNT(package_id) AS packages
FROM latest
WHERE rn = 1
GROUP BY status
ORDER BY packages DESC, status`

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
