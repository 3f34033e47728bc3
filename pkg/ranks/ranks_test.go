package ranks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCurrentRank(t *testing.T) {
	tests := []struct {
		name      string
		effective uint64
		expected  string
	}{
		{name: "zero minutes", effective: 0, expected: "Newcomer"},
		{name: "just below bronze", effective: 59, expected: "Newcomer"},
		{name: "exactly bronze", effective: 60, expected: "Bronze"},
		{name: "between silver and gold", effective: 450, expected: "Silver"},
		{name: "top of the table", effective: 100000, expected: "Obsidian"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := Resolve(Table, tt.effective, "")
			require.True(t, ok)
			assert.Equal(t, tt.expected, res.Current.Name)
		})
	}
}

func TestResolveImprovement(t *testing.T) {
	t.Run("first rank is an improvement", func(t *testing.T) {
		res, ok := Resolve(Table, 60, "")
		require.True(t, ok)
		assert.True(t, res.Improved)
	})

	t.Run("same rank does not re-fire", func(t *testing.T) {
		res, ok := Resolve(Table, 120, "Bronze")
		require.True(t, ok)
		assert.False(t, res.Improved)
	})

	t.Run("climbing a rank fires", func(t *testing.T) {
		res, ok := Resolve(Table, 300, "Bronze")
		require.True(t, ok)
		assert.Equal(t, "Silver", res.Current.Name)
		assert.True(t, res.Improved)
	})

	t.Run("skipping ranks fires once at the top", func(t *testing.T) {
		res, ok := Resolve(Table, 6000, "Bronze")
		require.True(t, ok)
		assert.Equal(t, "Obsidian", res.Current.Name)
		assert.True(t, res.Improved)
	})

	t.Run("dropping below the notified rank is not an improvement", func(t *testing.T) {
		res, ok := Resolve(Table, 60, "Gold")
		require.True(t, ok)
		assert.Equal(t, "Bronze", res.Current.Name)
		assert.False(t, res.Improved)
	})

	t.Run("unknown notified rank counts as unset", func(t *testing.T) {
		res, ok := Resolve(Table, 60, "Mithril")
		require.True(t, ok)
		assert.True(t, res.Improved)
	})

	t.Run("the floor never fires", func(t *testing.T) {
		res, ok := Resolve(Table, 0, "")
		require.True(t, ok)
		assert.Equal(t, "Newcomer", res.Current.Name)
		assert.False(t, res.Improved, "everyone starts at the floor")
	})
}

func TestResolveMalformedTable(t *testing.T) {
	noFloor := []Rank{{ThresholdMinutes: 100, Name: "Centurion"}}
	_, ok := Resolve(noFloor, 50, "")
	assert.False(t, ok)
}

func TestTableOrdering(t *testing.T) {
	require.NotEmpty(t, Table)
	for i := 1; i < len(Table); i++ {
		assert.Greater(t, Table[i-1].ThresholdMinutes, Table[i].ThresholdMinutes,
			"table must be ordered from highest threshold to the floor")
	}
	assert.Equal(t, uint64(0), Table[len(Table)-1].ThresholdMinutes, "table must end with a zero floor")
}
