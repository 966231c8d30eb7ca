package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionDefaults(t *testing.T) {
	t.Parallel()
	var defs []Definition
	raw := `[
		{"id":" rss_watch ","title":"RSS"},
		{"id":"off","enabled":false,"frequency":"HOURLY","params":{"url":"https://example.com"},"timezone":"UTC"}
	]`
	require.NoError(t, json.Unmarshal([]byte(raw), &defs))
	require.Len(t, defs, 2)

	assert.Equal(t, "rss_watch", defs[0].ID)
	assert.True(t, defs[0].Enabled)
	assert.Equal(t, Daily, defs[0].Frequency)

	assert.False(t, defs[1].Enabled)
	assert.Equal(t, Hourly, defs[1].Frequency.Normalized())
	assert.Equal(t, "https://example.com", defs[1].Params["url"])
	assert.Equal(t, "off", defs[1].DisplayName())
}

func TestFrequencyNormalizedKeepsCronCase(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Frequency("cron:0 9 * * MON"), Frequency("  CRON: 0 9 * * MON ").Normalized())
	assert.Equal(t, Every5Min, Frequency(" Every_5_Min ").Normalized())
}

func TestResultNormalize(t *testing.T) {
	t.Parallel()

	r := Result{Status: StatusFailed}.Normalize()
	assert.Equal(t, "unknown error", r.Error)

	r = Result{Status: StatusSuccess, Error: "stale"}.Normalize()
	assert.Empty(t, r.Error)

	r = Result{Status: "ok"}.Normalize()
	assert.Equal(t, StatusFailed, r.Status)
	assert.NotEmpty(t, r.Error)

	r = Skipped("missing api key").Normalize()
	assert.Equal(t, StatusSkipped, r.Status)
	assert.Equal(t, "missing api key", r.Summary)
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	h := HandlerFunc(func(ctx context.Context, def Definition) (Result, error) {
		return Success("ok"), nil
	})
	require.NoError(t, reg.Register("b", h))
	require.NoError(t, reg.Register("a", h))
	assert.Error(t, reg.Register("a", h))
	assert.Error(t, reg.Register(" ", h))
	assert.Error(t, reg.Register("c", nil))
	assert.Equal(t, []string{"a", "b"}, reg.IDs())

	got, err := reg.Lookup("a")
	require.NoError(t, err)
	res, err := got.Execute(context.Background(), Definition{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)

	_, err = reg.Lookup("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTask))
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "missing")
}

func TestNewOutcome(t *testing.T) {
	t.Parallel()
	r := Failed("boom")
	r.Attempts = 3
	o := NewOutcome(Definition{ID: "x"}, r)
	assert.Equal(t, "x", o.Title)
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, "boom", o.Error)
}
