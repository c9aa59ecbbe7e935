package tgui

import "fmt"

// Page returns the items of the 0-based page and whether more pages follow.
// A page past the end is clamped to the last one.
func Page[T any](items []T, page, size int) (sub []T, clamped int, hasNext bool) {
	if size <= 0 {
		size = 10
	}
	pages := max(1, (len(items)+size-1)/size)
	page = min(max(page, 0), pages-1)
	start := page * size
	end := min(start+size, len(items))
	return items[start:end], page, end < len(items)
}

// PageLabel returns a compact pagination label, e.g. "page 2/3 (11-20 of 25)".
// page is 0-based.
func PageLabel(page, size, total int) string {
	if size <= 0 {
		size = 10
	}
	if total <= 0 {
		return "page 1/1"
	}
	pages := (total + size - 1) / size
	page = min(max(page, 0), pages-1)
	from := page*size + 1
	to := min((page+1)*size, total)
	return fmt.Sprintf("page %d/%d (%d-%d of %d)", page+1, pages, from, to, total)
}
