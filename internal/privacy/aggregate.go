package privacy

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"
)

// GroupCount is one published bucket of a count summary.
type GroupCount struct {
	Key    string  `json:"key"`
	Count  int     `json:"-"`
	Noised float64 `json:"noised_count"`
}

// CountSummary is a k-anonymous, Laplace-noised view of per-key counts.
type CountSummary struct {
	Field          string       `json:"field"`
	Items          []GroupCount `json:"items"`
	RedactedCount  int          `json:"redacted_groups"`
	TotalSeen      int          `json:"total_seen"`
	AppliedK       int          `json:"k"`
	AppliedEpsilon float64      `json:"epsilon"`
}

// CountBy tallies the string form of field across records. Records without
// the field, or with an empty value, are not counted.
func CountBy(records []Record, field string) map[string]int {
	counts := map[string]int{}
	for _, rec := range records {
		value, ok := rec[field]
		if !ok || value == nil {
			continue
		}
		key := strings.TrimSpace(fmt.Sprint(value))
		if key == "" {
			continue
		}
		counts[key]++
	}
	return counts
}

// SummarizeCounts suppresses groups smaller than k and adds Laplace(1/epsilon)
// noise to the rest. seed 0 seeds from the clock.
func SummarizeCounts(field string, counts map[string]int, k int, epsilon float64, seed int64) CountSummary {
	if k <= 0 {
		k = 1
	}
	if epsilon <= 0 {
		epsilon = 0.7
	}

	var rng *rand.Rand
	if seed == 0 {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	} else {
		rng = rand.New(rand.NewSource(seed))
	}

	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	// Map order would otherwise make the noise non-reproducible for a seed.
	sort.Strings(keys)

	redacted := 0
	total := 0
	items := make([]GroupCount, 0, len(counts))
	for _, key := range keys {
		count := counts[key]
		total += count
		if count < k {
			redacted++
			continue
		}
		items = append(items, GroupCount{
			Key:    key,
			Count:  count,
			Noised: float64(count) + laplace(rng, 1/epsilon),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Noised > items[j].Noised
	})

	return CountSummary{
		Field:          field,
		Items:          items,
		RedactedCount:  redacted,
		TotalSeen:      total,
		AppliedK:       k,
		AppliedEpsilon: epsilon,
	}
}

func laplace(rng *rand.Rand, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	u := rng.Float64() - 0.5
	sign := 1.0
	if u < 0 {
		sign = -1.0
	}
	return -scale * sign * math.Log(1-2*math.Abs(u))
}
