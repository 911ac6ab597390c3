package services

import (
	"github.com/dpup/impact.ersn.net/server/internal/clients/google"
)

// CongestionLevel summarizes provider speed readings
type CongestionLevel string

const (
	CongestionUnknown  CongestionLevel = "unknown"
	CongestionClear    CongestionLevel = "clear"
	CongestionLight    CongestionLevel = "light"
	CongestionModerate CongestionLevel = "moderate"
	CongestionHeavy    CongestionLevel = "heavy"
	CongestionSevere   CongestionLevel = "severe"
)

// analyzeCongestionLevel determines traffic congestion from speed readings
func analyzeCongestionLevel(speedReadings []google.SpeedReading) CongestionLevel {
	if len(speedReadings) == 0 {
		return CongestionClear
	}

	var slow, trafficJam int
	for _, reading := range speedReadings {
		switch reading.SpeedCategory {
		case "SLOW":
			slow++
		case "TRAFFIC_JAM":
			trafficJam++
		}
	}

	total := len(speedReadings)

	// Determine overall congestion based on proportions
	if trafficJam*100/total > 30 {
		return CongestionSevere
	} else if trafficJam*100/total > 10 || slow*100/total > 50 {
		return CongestionHeavy
	} else if slow*100/total > 20 {
		return CongestionModerate
	} else if slow*100/total > 5 {
		return CongestionLight
	}

	return CongestionClear
}

// estimateDelay returns the delay in seconds. The provider's static duration
// is used when present; otherwise the delay is a share of the duration
// scaled by congestion.
func estimateDelay(route *google.RouteData, level CongestionLevel) int32 {
	if route.StaticDurationSeconds > 0 {
		return max(route.DurationSeconds-route.StaticDurationSeconds, 0)
	}

	switch level {
	case CongestionModerate:
		return int32(float32(route.DurationSeconds) * 0.10)
	case CongestionHeavy:
		return int32(float32(route.DurationSeconds) * 0.25)
	case CongestionSevere:
		return int32(float32(route.DurationSeconds) * 0.50)
	}
	return 0
}
