package evaluation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"graphloom/pkg/types"
)

// recencyHalfLifeDays is the half-life of the exponential recency decay
const recencyHalfLifeDays = 90.0

// TemporalReport describes how objects distribute over time
type TemporalReport struct {
	ObjectCount      int            `json:"object_count"`
	TimestampedCount int            `json:"timestamped_count"`
	CoverageDays     float64        `json:"coverage_days"`
	AvgAgeDays       float64        `json:"avg_age_days"`
	MedianAgeDays    float64        `json:"median_age_days"`
	WeekBuckets      map[string]int `json:"week_buckets"`
	RecencyScore     float64        `json:"recency_score"`
	ClusteringScore  float64        `json:"clustering_score"`
}

// EvaluateTemporal reports the time distribution of the objects' creation
// timestamps as seen from now. Ages decay with a 90-day half-life for the
// recency score; clustering is the coefficient of variation of ISO-week
// bucket counts clamped to [0,1], and a single occupied week scores 1.
// Objects without a parseable created_at are logged and skipped.
func EvaluateTemporal(objects []*types.CanonicalObject, now time.Time, logger *zap.Logger) TemporalReport {
	if logger == nil {
		logger = zap.NewNop()
	}

	report := TemporalReport{
		ObjectCount: len(objects),
		WeekBuckets: make(map[string]int),
	}

	ages := make([]float64, 0, len(objects))
	var oldest, newest time.Time
	for _, obj := range objects {
		createdAt := obj.CreatedAt()
		if createdAt.IsZero() {
			logger.Warn("skipping object without created_at", zap.String("object_id", obj.ID))
			continue
		}
		report.TimestampedCount++

		if oldest.IsZero() || createdAt.Before(oldest) {
			oldest = createdAt
		}
		if newest.IsZero() || createdAt.After(newest) {
			newest = createdAt
		}

		ages = append(ages, now.Sub(createdAt).Hours()/24)
		report.WeekBuckets[isoWeekBucket(createdAt)]++
	}
	if report.TimestampedCount == 0 {
		return report
	}

	report.CoverageDays = newest.Sub(oldest).Hours() / 24

	var ageSum, recencySum float64
	for _, age := range ages {
		ageSum += age
		recencySum += math.Exp(-math.Ln2 * age / recencyHalfLifeDays)
	}
	report.AvgAgeDays = ageSum / float64(len(ages))
	report.RecencyScore = recencySum / float64(len(ages))
	report.MedianAgeDays = median(ages)
	report.ClusteringScore = bucketClustering(report.WeekBuckets)
	return report
}

// isoWeekBucket formats a timestamp as its ISO-8601 week, e.g. 2025-W07.
func isoWeekBucket(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// bucketClustering is the coefficient of variation of bucket counts with
// population standard deviation, clamped to [0,1].
func bucketClustering(buckets map[string]int) float64 {
	if len(buckets) <= 1 {
		return 1
	}

	var sum float64
	for _, count := range buckets {
		sum += float64(count)
	}
	mean := sum / float64(len(buckets))

	var variance float64
	for _, count := range buckets {
		diff := float64(count) - mean
		variance += diff * diff
	}
	variance /= float64(len(buckets))

	cv := math.Sqrt(variance) / mean
	if cv > 1 {
		return 1
	}
	return cv
}
