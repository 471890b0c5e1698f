// Package testhelpers builds small but complete learned tables for tests
// that need to play whole games.
package testhelpers

import (
	"context"
	"math/rand"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/policy"
)

// HoldTables learns a hold table for every category with a seeded roller.
// Throws the short run never saw are given an empty hold, so every lookup
// succeeds.
func HoldTables(seed int64, laps int) []*policy.HoldTable {
	r := dice.NewRoller(rand.New(rand.NewSource(seed)))
	tables := make([]*policy.HoldTable, category.NumCategories)
	for _, c := range category.All() {
		t := policy.Learn(context.Background(), c, laps, r)
		Complete(t)
		tables[c] = t
	}
	return tables
}

// Complete fills every missing throw of t with an empty hold.
func Complete(t *policy.HoldTable) {
	for _, thrown := range dice.AllThrows() {
		for s := dice.Stage(0); s < dice.NumStages; s++ {
			if _, err := t.Lookup(s, thrown); err != nil {
				t.Set(s, thrown, policy.Entry{})
			}
		}
	}
}

// SaveHoldTables writes tables into dir.
func SaveHoldTables(dir string, tables []*policy.HoldTable) error {
	for _, t := range tables {
		if err := t.Save(dir); err != nil {
			return err
		}
	}
	return nil
}
