package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sybethiesant/flexerr/internal/mediaserver"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

func strPtr(s string) *string {
	return &s
}

func testItem() *mediaserver.Item {
	watched := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	return &mediaserver.Item{
		Key:          "movie-1",
		Title:        "The Long Goodbye",
		Year:         1973,
		Rating:       7.6,
		Genres:       []string{"Crime", "Drama"},
		Labels:       []string{"keep"},
		Collections:  []string{"Altman"},
		Resolution:   "4K",
		FileSize:     8 * 1024 * 1024 * 1024,
		AddedAt:      time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		LastViewedAt: &watched,
		ViewCount:    2,
	}
}

func testContext(now time.Time) *Context {
	return &Context{Now: now}
}

func TestParseConditions(t *testing.T) {
	tests := []struct {
		name    string
		raw     *string
		wantNil bool
		wantErr bool
	}{
		{name: "nil input", raw: nil, wantNil: true},
		{name: "empty string", raw: strPtr(""), wantNil: true},
		{name: "json null", raw: strPtr("null"), wantNil: true},
		{name: "leaf node", raw: strPtr(`{"field":"title","operator":"equals","value":"x"}`)},
		{name: "invalid json", raw: strPtr(`{"field":`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := ParseConditions(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, node)
			} else {
				assert.NotNil(t, node)
			}
		})
	}
}

func TestEvaluateEmptyTreeMatchesEverything(t *testing.T) {
	e := NewEvaluator(nil)
	item := testItem()
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, e.Evaluate(nil, item, testContext(now)))

	// A group shell with no children behaves the same way
	assert.True(t, e.Evaluate(&ConditionNode{Operator: OperatorAnd}, item, testContext(now)))
}

func TestEvaluateLeafOperators(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	e := NewEvaluator(nil)

	tests := []struct {
		name string
		node ConditionNode
		want bool
	}{
		{
			name: "equals string case insensitive",
			node: ConditionNode{Field: "title", Operator: OperatorEquals, Value: "the long goodbye"},
			want: true,
		},
		{
			name: "not equals",
			node: ConditionNode{Field: "title", Operator: OperatorNotEquals, Value: "Nashville"},
			want: true,
		},
		{
			name: "greater than numeric",
			node: ConditionNode{Field: "rating", Operator: OperatorGreaterThan, Value: 7.0},
			want: true,
		},
		{
			name: "less than fails",
			node: ConditionNode{Field: "year", Operator: OperatorLessThan, Value: 1970.0},
			want: false,
		},
		{
			name: "gte at boundary",
			node: ConditionNode{Field: "year", Operator: OperatorGTE, Value: 1973.0},
			want: true,
		},
		{
			name: "contains on list field",
			node: ConditionNode{Field: "genre", Operator: OperatorContains, Value: "crime"},
			want: true,
		},
		{
			name: "not contains on list field",
			node: ConditionNode{Field: "genre", Operator: OperatorNotContains, Value: "comedy"},
			want: true,
		},
		{
			name: "in list",
			node: ConditionNode{Field: "collection", Operator: OperatorIn, Value: []interface{}{"Altman", "Kubrick"}},
			want: true,
		},
		{
			name: "not in list",
			node: ConditionNode{Field: "collection", Operator: OperatorNotIn, Value: []interface{}{"Kubrick"}},
			want: true,
		},
		{
			name: "is empty on populated field",
			node: ConditionNode{Field: "label", Operator: OperatorIsEmpty},
			want: false,
		},
		{
			name: "is not empty",
			node: ConditionNode{Field: "label", Operator: OperatorIsNotEmpty},
			want: true,
		},
		{
			name: "boolean field equals",
			node: ConditionNode{Field: "is_4k", Operator: OperatorEquals, Value: true},
			want: true,
		},
		{
			name: "boolean against string value",
			node: ConditionNode{Field: "watched", Operator: OperatorEquals, Value: "true"},
			want: true,
		},
		{
			name: "file size in gigabytes",
			node: ConditionNode{Field: "file_size_gb", Operator: OperatorGreaterThan, Value: 5.0},
			want: true,
		},
		{
			name: "numeric string value coerces",
			node: ConditionNode{Field: "view_count", Operator: OperatorGTE, Value: "2"},
			want: true,
		},
		{
			name: "unknown operator never matches",
			node: ConditionNode{Field: "title", Operator: "regex", Value: ".*"},
			want: false,
		},
		{
			name: "unknown field matches",
			node: ConditionNode{Field: "no_such_field", Operator: OperatorEquals, Value: "x"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(&tt.node, testItem(), testContext(now))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateNeverWatchedIsInfinitelyOld(t *testing.T) {
	e := NewEvaluator(nil)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	item := testItem()
	item.LastViewedAt = nil

	// Unwatched content satisfies any greater_than threshold
	node := &ConditionNode{Field: "days_since_watched", Operator: OperatorGreaterThan, Value: 100000.0}
	assert.True(t, e.Evaluate(node, item, testContext(now)))

	// But never a less_than one
	node = &ConditionNode{Field: "days_since_watched", Operator: OperatorLessThan, Value: 100000.0}
	assert.False(t, e.Evaluate(node, item, testContext(now)))
}

func TestEvaluateDaysSinceWatched(t *testing.T) {
	e := NewEvaluator(nil)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	// Watched 22 days before now
	node := &ConditionNode{Field: "days_since_watched", Operator: OperatorGreaterThan, Value: 21.0}
	assert.True(t, e.Evaluate(node, testItem(), testContext(now)))

	node = &ConditionNode{Field: "days_since_watched", Operator: OperatorGreaterThan, Value: 30.0}
	assert.False(t, e.Evaluate(node, testItem(), testContext(now)))
}

func TestEvaluateGroups(t *testing.T) {
	e := NewEvaluator(nil)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	matching := ConditionNode{Field: "year", Operator: OperatorEquals, Value: 1973.0}
	failing := ConditionNode{Field: "title", Operator: OperatorEquals, Value: "Nashville"}

	tests := []struct {
		name string
		node ConditionNode
		want bool
	}{
		{
			name: "and requires all children",
			node: ConditionNode{Operator: OperatorAnd, Children: []ConditionNode{matching, failing}},
			want: false,
		},
		{
			name: "or requires one child",
			node: ConditionNode{Operator: OperatorOr, Children: []ConditionNode{failing, matching}},
			want: true,
		},
		{
			name: "missing combinator defaults to and",
			node: ConditionNode{Children: []ConditionNode{matching, matching}},
			want: true,
		},
		{
			name: "nested or inside and",
			node: ConditionNode{
				Operator: OperatorAnd,
				Children: []ConditionNode{
					matching,
					{Operator: OperatorOr, Children: []ConditionNode{failing, matching}},
				},
			},
			want: true,
		},
		{
			name: "nested and inside or",
			node: ConditionNode{
				Operator: OperatorOr,
				Children: []ConditionNode{
					{Operator: OperatorAnd, Children: []ConditionNode{matching, failing}},
					failing,
				},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(&tt.node, testItem(), testContext(now))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateContextFields(t *testing.T) {
	e := NewEvaluator(nil)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	evalCtx := testContext(now)
	evalCtx.OnWatchlist = true

	node := &ConditionNode{Field: "on_watchlist", Operator: OperatorEquals, Value: true}
	assert.True(t, e.Evaluate(node, testItem(), evalCtx))

	node = &ConditionNode{Field: "in_orchestrator", Operator: OperatorEquals, Value: true}
	assert.False(t, e.Evaluate(node, testItem(), evalCtx))

	node = &ConditionNode{Field: "monitored", Operator: OperatorEquals, Value: false}
	assert.True(t, e.Evaluate(node, testItem(), evalCtx))
}

func TestEvaluateDaysSinceActivityFallsBackToItem(t *testing.T) {
	e := NewEvaluator(nil)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	// Without a context-level activity pointer the item's own view time is used
	node := &ConditionNode{Field: "days_since_activity", Operator: OperatorGreaterThan, Value: 21.0}
	assert.True(t, e.Evaluate(node, testItem(), testContext(now)))

	// A fresher show-level activity overrides it
	evalCtx := testContext(now)
	evalCtx.LastActivity = timePtr(now.AddDate(0, 0, -2))
	assert.False(t, e.Evaluate(node, testItem(), evalCtx))
}
