package transformation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAllocateCost(t *testing.T) {
	cases := []struct {
		name       string
		consumed   string
		additional string
		produced   []Produced
		want       []string
	}{
		{
			name:     "single output takes the pool",
			consumed: "12",
			produced: []Produced{{LineID: 1, Role: RoleOutput, NormalizedQty: d("4")}},
			want:     []string{"12"},
		},
		{
			name:       "pro rata with additional cost and scrap",
			consumed:   "12",
			additional: "5",
			produced: []Produced{
				{LineID: 1, Role: RoleOutput, NormalizedQty: d("2")},
				{LineID: 2, Role: RoleScrap, NormalizedQty: d("1"), ScrapValue: d("2")},
				{LineID: 3, Role: RoleOutput, NormalizedQty: d("3")},
			},
			want: []string{"6", "2", "9"},
		},
		{
			name:     "last output absorbs rounding",
			consumed: "10",
			produced: []Produced{
				{LineID: 1, Role: RoleOutput, NormalizedQty: d("1")},
				{LineID: 2, Role: RoleOutput, NormalizedQty: d("1")},
				{LineID: 3, Role: RoleOutput, NormalizedQty: d("1")},
			},
			want: []string{"3.333333", "3.333333", "3.333334"},
		},
		{
			name:     "pool smaller than the cost scale",
			consumed: "0.000002",
			produced: []Produced{
				{LineID: 1, Role: RoleOutput, NormalizedQty: d("1")},
				{LineID: 2, Role: RoleOutput, NormalizedQty: d("1")},
				{LineID: 3, Role: RoleOutput, NormalizedQty: d("1")},
				{LineID: 4, Role: RoleOutput, NormalizedQty: d("1")},
			},
			want: []string{"0", "0", "0", "0.000002"},
		},
		{
			name:     "shares truncate to the cost scale",
			consumed: "0.000010",
			produced: []Produced{
				{LineID: 1, Role: RoleOutput, NormalizedQty: d("1")},
				{LineID: 2, Role: RoleOutput, NormalizedQty: d("3")},
				{LineID: 3, Role: RoleOutput, NormalizedQty: d("1")},
				{LineID: 4, Role: RoleOutput, NormalizedQty: d("3")},
			},
			want: []string{"0.000001", "0.000003", "0.000001", "0.000005"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			additional := decimal.Zero
			if tc.additional != "" {
				additional = d(tc.additional)
			}
			got, err := AllocateCost(d(tc.consumed), additional, tc.produced)
			require.NoError(t, err)
			require.Len(t, got, len(tc.want))
			total := decimal.Zero
			for i, a := range got {
				require.Equal(t, tc.produced[i].LineID, a.LineID)
				require.True(t, a.Total.Equal(d(tc.want[i])), "line %d: got %s want %s", a.LineID, a.Total, tc.want[i])
				require.False(t, a.Total.IsNegative(), "line %d", a.LineID)
				total = total.Add(a.Total)
			}
			require.True(t, total.Equal(d(tc.consumed).Add(additional)), "allocations must add up to the pool")
		})
	}
}

func TestAllocateCostUnitCost(t *testing.T) {
	got, err := AllocateCost(d("9"), decimal.Zero, []Produced{{LineID: 1, Role: RoleOutput, NormalizedQty: d("4")}})
	require.NoError(t, err)
	require.True(t, got[0].UnitCost.Equal(d("2.25")))
}

func TestAllocateCostRejects(t *testing.T) {
	_, err := AllocateCost(d("1"), decimal.Zero, []Produced{
		{LineID: 1, Role: RoleOutput, NormalizedQty: d("1")},
		{LineID: 2, Role: RoleScrap, NormalizedQty: d("1"), ScrapValue: d("3")},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = AllocateCost(d("1"), decimal.Zero, []Produced{{LineID: 1, Role: RoleScrap, NormalizedQty: d("1")}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusDraft, StatusPreparing))
	require.True(t, CanTransition(StatusDraft, StatusCancelled))
	require.True(t, CanTransition(StatusPreparing, StatusCompleted))
	require.True(t, CanTransition(StatusPreparing, StatusCancelled))
	require.False(t, CanTransition(StatusDraft, StatusCompleted))
	require.False(t, CanTransition(StatusCompleted, StatusCancelled))
	require.False(t, CanTransition(StatusCancelled, StatusPreparing))
}
