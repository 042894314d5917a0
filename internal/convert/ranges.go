package convert

import (
	"fmt"
	"strconv"
	"strings"

	"doc-convert-service/internal/apperr"
	"doc-convert-service/internal/entity"
)

// ParseRanges parses "1-3,5,7-8" into 1-based inclusive ranges, each within
// [1, totalPages]. Overlaps are kept; every range yields its own output.
func ParseRanges(s string, totalPages int) ([]entity.PageRange, error) {
	if strings.TrimSpace(s) == "" {
		return nil, apperr.InvalidInput("ranges is empty")
	}

	var out []entity.PageRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var pr entity.PageRange
		if a, b, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(strings.TrimSpace(a))
			end, err2 := strconv.Atoi(strings.TrimSpace(b))
			if err1 != nil || err2 != nil {
				return nil, apperr.InvalidInput(fmt.Sprintf("invalid range %q", part))
			}
			pr = entity.PageRange{Start: start, End: end}
		} else {
			page, err := strconv.Atoi(part)
			if err != nil {
				return nil, apperr.InvalidInput(fmt.Sprintf("invalid page %q", part))
			}
			pr = entity.PageRange{Start: page, End: page}
		}

		if pr.Start < 1 || pr.End < pr.Start || pr.End > totalPages {
			return nil, apperr.InvalidInput(fmt.Sprintf("range %q outside 1-%d", part, totalPages))
		}
		out = append(out, pr)
	}

	if len(out) == 0 {
		return nil, apperr.InvalidInput("ranges is empty")
	}
	return out, nil
}

// FormatRange renders r as qpdf page-range syntax.
func FormatRange(r entity.PageRange) string {
	if r.Start == r.End {
		return strconv.Itoa(r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}
