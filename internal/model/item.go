package model

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MinItemCount = 3
	MaxItemCount = 15
)

var ErrMalformedReference = errors.New("reference ranks are not a permutation")

// Item is one ranked entity. ViewershipRank is the reference rank:
// 1 is the most preferred, and across a room's items the ranks must form
// a permutation of 1..itemCount.
type Item struct {
	ID             int    `json:"id"`
	Title          string `json:"title"`
	Years          string `json:"years"`
	Image          string `json:"image"`
	ViewershipRank int    `json:"viewershipRank"`
	Description    string `json:"description"`
	Fact           string `json:"fact"`
}

func ClampItemCount(n int) int {
	if n < MinItemCount {
		return MinItemCount
	}
	if n > MaxItemCount {
		return MaxItemCount
	}
	return n
}

// SanitizeItems normalizes generator output before it enters a room
// document: missing fields are defaulted, the list is cut to count, and the
// reference ranks are checked to be a clean permutation of 1..count.
// Generator output is untrusted input; nothing past this boundary repairs it.
func SanitizeItems(items []Item, count int) ([]Item, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("generator returned no items")
	}
	if len(items) > count {
		items = items[:count]
	}
	if len(items) < count {
		return nil, fmt.Errorf("generator returned %d items, expected %d", len(items), count)
	}

	out := make([]Item, len(items))
	for i, it := range items {
		if it.ID == 0 {
			it.ID = i + 1
		}
		it.Title = strings.TrimSpace(it.Title)
		if it.Title == "" {
			it.Title = fmt.Sprintf("Item %d", i+1)
		}
		it.Years = strings.TrimSpace(it.Years)
		if it.Years == "" {
			it.Years = "N/A"
		}
		it.Image = strings.TrimSpace(it.Image)
		if it.Image == "" {
			it.Image = "⭐"
		}
		if it.ViewershipRank == 0 {
			it.ViewershipRank = i + 1
		}
		it.Description = strings.TrimSpace(it.Description)
		if it.Description == "" {
			it.Description = it.Title
		}
		it.Fact = strings.TrimSpace(it.Fact)
		if it.Fact == "" {
			it.Fact = "A notable entry in this category"
		}
		out[i] = it
	}

	if !ValidReferenceRanks(out) {
		return nil, ErrMalformedReference
	}
	return out, nil
}

// ValidReferenceRanks reports whether ViewershipRank values form a
// permutation of 1..len(items).
func ValidReferenceRanks(items []Item) bool {
	seen := make(map[int]bool, len(items))
	for _, it := range items {
		r := it.ViewershipRank
		if r < 1 || r > len(items) || seen[r] {
			return false
		}
		seen[r] = true
	}
	return true
}
