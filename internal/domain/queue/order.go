package queue

import (
	"errors"

	"golang.org/x/exp/slices"
)

func sortEntries(entries []Entry, by SortField, order SortOrder) {
	if by == "" {
		by = SortByPriority
	}
	if order == "" {
		order = OrderDesc
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		var c int
		switch by {
		case SortByTimestamp:
			c = a.Timestamp.Compare(b.Timestamp)
		case SortByAttempts:
			c = compareInt64(int64(a.Attempts), int64(b.Attempts))
		default:
			c = compareInt64(int64(a.Priority), int64(b.Priority))
		}
		if order == OrderDesc {
			c = -c
		}
		if c != 0 {
			return c
		}
		// при равенстве всегда раньше поставленный
		return compareInt64(a.Seq, b.Seq)
	})
}

func paginate(entries []Entry, offset, limit int) []Entry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []Entry{}
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
