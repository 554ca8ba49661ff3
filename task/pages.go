package task

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxPage is the highest page number a selection may name. It bounds the
// work of expanding ranges before the document's real page count is known.
const MaxPage = 100000

// ParsePageRange parses a page selection such as "1,3-5,7" into ascending,
// de-duplicated 1-based page numbers. An empty expression selects all
// pages and yields nil.
func ParsePageRange(expr string) ([]int, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}

	seen := make(map[int]struct{})
	for _, raw := range strings.Split(expr, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			return nil, fmt.Errorf("empty page token in %q", expr)
		}

		start, end, isRange := strings.Cut(token, "-")
		if !isRange {
			n, err := parsePage(token)
			if err != nil {
				return nil, err
			}
			seen[n] = struct{}{}
			continue
		}

		lo, err := parsePage(strings.TrimSpace(start))
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", token, err)
		}
		hi, err := parsePage(strings.TrimSpace(end))
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", token, err)
		}
		if lo > hi {
			return nil, fmt.Errorf("range %q: start is after end", token)
		}
		for n := lo; n <= hi; n++ {
			seen[n] = struct{}{}
		}
	}

	pages := make([]int, 0, len(seen))
	for n := range seen {
		pages = append(pages, n)
	}
	sort.Ints(pages)
	return pages, nil
}

func parsePage(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("missing page number")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a page number", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("page %d is out of range, pages start at 1", n)
	}
	if n > MaxPage {
		return 0, fmt.Errorf("page %d is out of range, at most %d pages are supported", n, MaxPage)
	}
	return n, nil
}
