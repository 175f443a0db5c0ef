package jsonmap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestFromCounts(t *testing.T) {
	require.Equal(t, datatypes.JSONMap{}, FromCounts(nil))
	require.Equal(t, datatypes.JSONMap{"A": int64(3)}, FromCounts(map[string]int64{"A": 3}))
}

func TestToCounts(t *testing.T) {
	counts, err := ToCounts(datatypes.JSONMap{
		"A": float64(2),
		"B": json.Number("5"),
		"C": int64(0),
	})
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"A": 2, "B": 5, "C": 0}, counts)

	_, err = ToCounts(datatypes.JSONMap{"A": "two"})
	require.Error(t, err)
}
