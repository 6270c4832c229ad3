package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input  string
		want   int
		wantOK bool
	}{
		{"PT1H30M45S", 5445, true},
		{"PT30S", 30, true},
		{"PT2M", 120, true},
		{"PT1H", 3600, true},
		{"PT0S", 0, true},
		{"PT1H5S", 3605, true},
		{"754", 754, true},
		{" 12 ", 12, true},
		{"0", 0, true},
		{"PTX", 0, false},
		{"PT", 0, false},
		{"P1D", 0, false},
		{"1:30", 0, false},
		{"", 0, false},
		{"-5", 0, false},
		{"PT5S3M", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseDuration(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	for _, seconds := range []int{0, 1, 59, 60, 61, 119, 3599, 3600, 3661, 5445, 86399, 86400, 360000} {
		got, ok := ParseDuration(FormatDuration(seconds))
		assert.True(t, ok, seconds)
		assert.Equal(t, seconds, got)
	}
	assert.Equal(t, "", FormatDuration(-1))
	assert.Equal(t, "PT1H30M45S", FormatDuration(5445))
	assert.Equal(t, "PT2M", FormatDuration(120))
}

func TestNormalizeTimestamp(t *testing.T) {
	got, ok := NormalizeTimestamp("2024-03-05T14:07:09Z")
	assert.True(t, ok)
	assert.Equal(t, "2024-03-05 14:07:09", got)

	got, ok = NormalizeTimestamp("2024-03-05 14:07:09")
	assert.True(t, ok)
	assert.Equal(t, "2024-03-05 14:07:09", got)

	for _, bad := range []string{"", "yesterday", "2024-13-40T00:00:00Z", "2024-03-05"} {
		_, ok := NormalizeTimestamp(bad)
		assert.False(t, ok, bad)
	}
}
