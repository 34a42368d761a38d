package downloader

import (
	"slices"

	"mediagrab/internal/entity"
)

// formatPreference is scanned in order; each format is tried across the whole priority list.
var formatPreference = []entity.Format{entity.FormatDirect, entity.FormatSegmented}

// SelectBest picks the candidate to download. A direct candidate of any listed quality
// wins over a segmented one, so a lower resolution file beats a higher resolution
// stream. When nothing matches the priority list, the candidate with the smallest
// quality key is returned so the choice does not depend on map iteration order.
func SelectBest(candidates entity.Candidates, priority []string) (entity.MediaCandidate, bool) {
	if len(candidates) == 0 {
		return entity.MediaCandidate{}, false
	}

	for _, format := range formatPreference {
		for _, quality := range priority {
			if c, ok := candidates[quality]; ok && c.Format == format {
				return c, true
			}
		}
	}

	keys := make([]string, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return candidates[keys[0]], true
}
