package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/reportscan-worker/internal/errors"
)

func TestFromParametersRenamesFields(t *testing.T) {
	v := FromParameters(map[string]float64{
		"age":            54,
		"sex":            1,
		"blood_pressure": 130,
		"cholesterol":    246,
		"blood_sugar":    135,
		"heart_rate":     150,
		"vessels":        2,
	})
	m := v.Map()

	assert.Equal(t, 54.0, m["age"])
	assert.Equal(t, 130.0, m["trestbps"])
	assert.Equal(t, 246.0, m["chol"])
	assert.Equal(t, 1.0, m["fbs"])
	assert.Equal(t, 150.0, m["thalach"])
	assert.Equal(t, 2.0, m["ca"])
	assert.Equal(t, 0.0, m["thal"])
	assert.Equal(t, 7, v.Count())
	assert.Len(t, v.Float32(), Dimensions)
	assert.Equal(t, float32(130), v.Float32()[3])
}

func TestFastingSugarFlag(t *testing.T) {
	low := FromParameters(map[string]float64{"blood_sugar": 120})
	high := FromParameters(map[string]float64{"blood_sugar": 121})

	assert.Equal(t, 0.0, low.Map()["fbs"])
	assert.True(t, low.Present[5])
	assert.Equal(t, 1.0, high.Map()["fbs"])
}

func TestUnknownFieldsAreIgnored(t *testing.T) {
	v := FromParameters(map[string]float64{"weight": 80, "trestbps": 120})
	assert.Equal(t, 0, v.Count())
}

func TestAcceptMinimumCount(t *testing.T) {
	params := map[string]float64{"age": 45, "sex": 0}

	_, err := Accept("job-1", params, DefaultMinParameters)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorInsufficientParameters, errors.CodeOf(err))

	v, err := Accept("job-1", params, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Count())
}

func TestNamesCoverEveryField(t *testing.T) {
	require.Len(t, Names, Dimensions)
	seen := map[string]bool{}
	for _, name := range Names {
		field, ok := SourceFields[name]
		require.True(t, ok, name)
		seen[field] = true
	}
	assert.Len(t, seen, Dimensions)
}
