package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/example/fuelroute/internal/fuel/domain"
)

const markerSuffix = ":task"

// RouteKey derives the deterministic cache key for a start/finish pair.
// encoding/json sorts map keys, so the digest is stable across processes.
func RouteKey(q domain.RouteQuery) string {
	payload, _ := json.Marshal(map[string][2]float64{
		"start":  {q.Start.Lat, q.Start.Lon},
		"finish": {q.Finish.Lat, q.Finish.Lon},
	})
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}

// MarkerKey is the in-flight marker for a route key.
func MarkerKey(routeKey string) string {
	return routeKey + markerSuffix
}
