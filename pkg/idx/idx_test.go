package idx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	id := idx.New()
	require.NotEmpty(t, id.String())

	parsed, err := idx.Parse(" " + id.String() + "\n")
	require.NoError(t, err)
	require.Equal(t, id, parsed)
	require.False(t, id.IsZero())
}

func TestParseRejectsJunk(t *testing.T) {
	for _, s := range []string{"", "   ", "not-a-ulid", "01HQ7T3Z1MZ0JQ3M6MZQ1FQ3Z!"} {
		_, err := idx.Parse(s)
		require.ErrorIs(t, err, idx.ErrInvalid, s)
	}
}

func TestTimeExtraction(t *testing.T) {
	tm := time.Unix(1700000000, 0).UTC()
	id := idx.NewAt(tm)

	require.WithinDuration(t, tm, id.Time(), time.Millisecond)
	require.True(t, idx.Zero.Time().IsZero())
}

func TestOlderThan(t *testing.T) {
	now := time.Now().UTC()
	fresh := idx.NewAt(now.Add(-time.Minute))
	stale := idx.NewAt(now.Add(-11 * time.Minute))

	require.False(t, fresh.OlderThan(10*time.Minute, now))
	require.True(t, stale.OlderThan(10*time.Minute, now))
	require.True(t, idx.Zero.OlderThan(time.Hour, now))
}
