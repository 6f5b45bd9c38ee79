package certd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomains(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"b.example.com", "A.example.com"}, []string{"a.example.com", "b.example.com"}},
		{[]string{" example.com ", "", "EXAMPLE.com"}, []string{"example.com"}},
		{SplitList(" , ,"), []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDomains(tt.in), "input %q", tt.in)
	}
}

func TestSameDomains(t *testing.T) {
	assert.True(t, sameDomains([]string{"a.com", "b.com"}, []string{"B.com", "a.com", "a.com"}))
	assert.False(t, sameDomains([]string{"a.com"}, []string{"a.com", "b.com"}))
	assert.False(t, sameDomains([]string{"a.com"}, []string{"c.com"}))
}

func TestNormalizeTargetsKeepsOrder(t *testing.T) {
	assert.Equal(t, []string{"web", "api"}, normalizeTargets([]string{" web", "api ", "", "web"}))
}

func TestAgeDays(t *testing.T) {
	now := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 29, ageDays(now, now.Add(-(29*24+23)*time.Hour)))
	assert.Equal(t, 30, ageDays(now, now.Add(-30*24*time.Hour)))
	assert.Equal(t, 0, ageDays(now, now.Add(time.Hour)))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "expiring", StatusExpiring.String())
	assert.Equal(t, "unknown", Status(42).String())
	assert.Equal(t, "malformed", FileMalformed.String())
}

func TestTimeFormat(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	s := TimeFormat(ts)
	assert.Equal(t, "2024-01-02T02:04:05Z", s)
	back, err := TimeParse(s)
	assert.NoError(t, err)
	assert.True(t, ts.Equal(back))
}
