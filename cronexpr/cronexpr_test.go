package cronexpr_test

import (
	"strings"
	"testing"
	"time"

	"github.com/Agora-Build/voxgrid/cronexpr"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"every minute", "* * * * *", false},
		{"weekday mornings", "30 8 * * 1-5", false},
		{"every 15 minutes", "*/15 * * * *", false},
		{"list", "0,15,30,45 0 1 1 0", false},
		{"list of ranges", "0-5,30-35 * * * *", false},
		{"impossible but well-formed", "0 0 31 2 *", false},

		{"too few fields", "* * * *", true},
		{"too many fields", "* * * * * *", true},
		{"minute out of domain", "60 * * * *", true},
		{"hour out of domain", "* 24 * * *", true},
		{"day-of-month zero", "* * 0 * *", true},
		{"month out of domain", "* * * 13 *", true},
		{"day-of-week out of domain", "* * * * 7", true},
		{"negative number", "-5 * * * *", true},
		{"reversed range", "30-8 * * * *", true},
		{"range end out of domain", "0-60 * * * *", true},
		{"dangling range", "5- * * * *", true},
		{"zero step", "*/0 * * * *", true},
		{"step beyond field max", "*/60 * * * *", true},
		{"empty list element", "1,,2 * * * *", true},
		{"garbage", "foo * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cronexpr.Validate(tt.expr)
			if tt.wantErr && err == nil {
				t.Errorf("Validate(%q) = nil, want error", tt.expr)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate(%q) = %v, want nil", tt.expr, err)
			}
		})
	}
}

func TestValidateNamesField(t *testing.T) {
	t.Parallel()

	err := cronexpr.Validate("* * * 13 *")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "month") {
		t.Errorf("error %q does not name the failing field", got)
	}
}

func TestNext(t *testing.T) {
	t.Parallel()

	// 2024-03-01 is a Friday.
	friday9 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		from time.Time
		want time.Time
	}{
		{
			name: "weekday schedule skips the weekend",
			expr: "30 8 * * 1-5",
			from: friday9,
			want: time.Date(2024, 3, 4, 8, 30, 0, 0, time.UTC), // Monday
		},
		{
			name: "same day when still ahead",
			expr: "30 10 * * *",
			from: friday9,
			want: time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "strictly after an exact match",
			expr: "0 9 * * *",
			from: friday9,
			want: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "seconds are zeroed",
			expr: "* * * * *",
			from: time.Date(2024, 3, 1, 9, 0, 42, 0, time.UTC),
			want: time.Date(2024, 3, 1, 9, 1, 0, 0, time.UTC),
		},
		{
			name: "step field",
			expr: "*/15 * * * *",
			from: time.Date(2024, 3, 1, 9, 1, 0, 0, time.UTC),
			want: time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC),
		},
		{
			name: "month rollover",
			expr: "0 0 1 * *",
			from: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
			want: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cronexpr.Next(tt.expr, tt.from)
			if !got.Equal(tt.want) {
				t.Errorf("Next(%q, %v) = %v, want %v", tt.expr, tt.from, got, tt.want)
			}
		})
	}
}

func TestNextBoundedFallback(t *testing.T) {
	t.Parallel()

	// February 31st never exists; the scan must terminate and fall back
	// one hour ahead instead of looping.
	from := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	got := cronexpr.Next("0 0 31 2 *", from)
	want := from.Add(time.Hour)
	if !got.Equal(want) {
		t.Errorf("impossible expression: Next = %v, want fallback %v", got, want)
	}
}

func TestNextInvalidExpressionFallsBack(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	got := cronexpr.Next("not a cron", from)
	if !got.Equal(from.Add(time.Hour)) {
		t.Errorf("invalid expression: Next = %v, want %v", got, from.Add(time.Hour))
	}
}

func TestScheduleReuse(t *testing.T) {
	t.Parallel()

	s := cronexpr.MustParse("0 12 * * *")
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for day := 1; day <= 3; day++ {
		next := s.Next(from)
		want := time.Date(2024, 3, day, 12, 0, 0, 0, time.UTC)
		if !next.Equal(want) {
			t.Fatalf("day %d: Next = %v, want %v", day, next, want)
		}
		from = next
	}
}
