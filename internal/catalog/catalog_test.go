package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/leafscan/internal/pipeline"
)

func TestEmbeddedCatalogCoversEveryLabel(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, pipeline.DefaultLabels, c.Labels())
	require.Empty(t, c.Missing(pipeline.DefaultLabels))

	for _, r := range c.Records() {
		require.NotEmpty(t, r.Type, r.Label)
		require.NotEmpty(t, r.Symptoms, r.Label)
		require.NotEmpty(t, r.Causes, r.Label)
		require.NotEmpty(t, r.Management, r.Label)
	}
}

func TestLookup(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	r, ok := c.Lookup("Tungro")
	require.True(t, ok)
	require.Equal(t, "Viral Disease", r.Type)
	require.Equal(t, IndicatorRed, r.Indicator)

	r, ok = c.Lookup("Healthy Leaves")
	require.True(t, ok)
	require.Equal(t, IndicatorGreen, r.Indicator)

	r, ok = c.Lookup(pipeline.InvalidInput)
	require.False(t, ok)
	require.Equal(t, "Unknown", r.Type)
	require.Equal(t, IndicatorGreen, r.Indicator)
	require.Equal(t, []string{"No information available"}, r.Symptoms)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	_, err := Parse([]byte("diseases: [{type: x}]"))
	require.Error(t, err)

	_, err = Parse([]byte("diseases:\n  - label: a\n  - label: a\n"))
	require.Error(t, err)

	_, err = Parse([]byte(":::"))
	require.Error(t, err)
}

func TestRejectionGuidance(t *testing.T) {
	require.Equal(t, "Ensure the image has enough light and clear details.", Rejection(pipeline.KindDarkness).Advice)
	require.Equal(t, pipeline.MsgNotPlant, Rejection(pipeline.KindPlantAbsence).Message)
	require.Equal(t, "Invalid file type. Please upload a valid image.", Rejection(KindInvalidFile).Message)
	require.Equal(t, Rejection(pipeline.KindLowConfidence), Rejection("something else"))
}
