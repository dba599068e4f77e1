// Package ranking scores a participant's submitted order against the
// reference order and across participants. Everything here is pure and
// total: malformed reference ranks, foreign item ids and missing rankings
// degrade to unmatched/unranked cells, because a results view must always
// be able to render something.
package ranking

import (
	"sort"

	"github.com/rankparty/core/internal/model"
)

// Unranked marks a cell for an item absent from a participant's ranking.
const Unranked = 0

const (
	DefaultMinDifference   = 3
	DefaultDivergenceLimit = 4
)

type Row struct {
	Item          model.Item `json:"item"`
	UserRank      int        `json:"userRank"`
	ReferenceRank int        `json:"referenceRank"`
	Difference    int        `json:"difference"`
	Matched       bool       `json:"matched"`
}

// Compare scores a user order position by position: the item at index i has
// userRank i+1, measured against its own reference rank.
func Compare(userOrder []model.Item) []Row {
	rows := make([]Row, len(userOrder))
	for i, item := range userOrder {
		userRank := i + 1
		rows[i] = Row{
			Item:          item,
			UserRank:      userRank,
			ReferenceRank: item.ViewershipRank,
			Difference:    abs(userRank - item.ViewershipRank),
			Matched:       userRank == item.ViewershipRank,
		}
	}
	return rows
}

func MatchCount(rows []Row) int {
	n := 0
	for _, row := range rows {
		if row.Matched {
			n++
		}
	}
	return n
}

func PerfectMatch(rows []Row) bool {
	return len(rows) > 0 && MatchCount(rows) == len(rows)
}

// ReferenceOrder sorts items ascending by reference rank. The sort is
// stable: equal ranks (a malformed reference) keep their original order.
func ReferenceOrder(items []model.Item) []model.Item {
	out := make([]model.Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ViewershipRank < out[j].ViewershipRank
	})
	return out
}

// NotableDivergences picks the rows worth calling out: missed by at least
// minDifference positions, first limit of them, original order preserved.
// Zero arguments select the defaults.
func NotableDivergences(rows []Row, minDifference, limit int) []Row {
	if minDifference <= 0 {
		minDifference = DefaultMinDifference
	}
	if limit <= 0 {
		limit = DefaultDivergenceLimit
	}

	var out []Row
	for _, row := range rows {
		if !row.Matched && row.Difference >= minDifference {
			out = append(out, row)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

type Cell struct {
	PlayerID string `json:"playerId"`
	Rank     int    `json:"rank"`
	Ranked   bool   `json:"ranked"`
	Matched  bool   `json:"matched"`
}

type TableRow struct {
	Item  model.Item `json:"item"`
	Cells []Cell     `json:"cells"`
}

type PlayerColumn struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Submitted bool   `json:"submitted"`
}

type Table struct {
	Players []PlayerColumn `json:"players"`
	Rows    []TableRow     `json:"rows"`
}

// ConsensusTable lays out every participant's positional rank of every
// item. Participants without a ranking, and items a ranking never mentions,
// show as unranked cells. Column order is join order (id as tiebreak) so
// the table is deterministic across renders.
func ConsensusTable(items []model.Item, players map[string]model.Participant) Table {
	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := players[ids[i]], players[ids[j]]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return ids[i] < ids[j]
	})

	columns := make([]PlayerColumn, len(ids))
	for i, id := range ids {
		columns[i] = PlayerColumn{
			ID:        id,
			Name:      players[id].Name,
			Submitted: players[id].Submitted,
		}
	}

	rows := make([]TableRow, len(items))
	for i, item := range items {
		cells := make([]Cell, len(ids))
		for j, id := range ids {
			rank := positionalRank(players[id].Ranking, item.ID)
			cells[j] = Cell{
				PlayerID: id,
				Rank:     rank,
				Ranked:   rank != Unranked,
				Matched:  rank != Unranked && rank == item.ViewershipRank,
			}
		}
		rows[i] = TableRow{Item: item, Cells: cells}
	}

	return Table{Players: columns, Rows: rows}
}

func positionalRank(ranking []int, itemID int) int {
	for i, id := range ranking {
		if id == itemID {
			return i + 1
		}
	}
	return Unranked
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
