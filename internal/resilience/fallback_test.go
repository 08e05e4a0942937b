package resilience

import (
	"errors"
	"testing"
)

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	errFinal := errors.New("final")
	tests := []struct {
		name      string
		failing   map[string]error
		wantValue string
		wantCalls []string
		wantErr   error
	}{
		{
			name:      "primary succeeds",
			wantValue: "primary",
			wantCalls: []string{"primary"},
		},
		{
			name:      "fails over to secondary",
			failing:   map[string]error{"primary": errTest},
			wantValue: "secondary",
			wantCalls: []string{"primary", "secondary"},
		},
		{
			name:      "all fail",
			failing:   map[string]error{"primary": errTest, "secondary": errTest},
			wantCalls: []string{"primary", "secondary"},
			wantErr:   ErrAllFailed,
		},
		{
			name:      "non-failure error stops failover",
			failing:   map[string]error{"primary": errFinal},
			wantCalls: []string{"primary"},
			wantErr:   errFinal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := NewFallbackGroup("primary", "primary", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{
					MaxFailures: 3,
					IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, errFinal) },
				},
			})
			fg.AddFallback("secondary", "secondary")

			var calls []string
			got, err := ExecuteWithResult(fg, func(v string) (string, error) {
				calls = append(calls, v)
				if e := tt.failing[v]; e != nil {
					return "", e
				}
				return v, nil
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.wantValue {
				t.Errorf("value = %q, want %q", got, tt.wantValue)
			}
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("calls = %v, want %v", calls, tt.wantCalls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Errorf("calls[%d] = %q, want %q", i, calls[i], tt.wantCalls[i])
				}
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fg.AddFallback("secondary", "secondary")

	primaryCalls := 0
	call := func(v string) (string, error) {
		if v == "primary" {
			primaryCalls++
			return "", errTest
		}
		return v, nil
	}
	for range 3 {
		got, err := ExecuteWithResult(fg, call)
		if err != nil || got != "secondary" {
			t.Fatalf("ExecuteWithResult = %q, %v", got, err)
		}
	}
	if primaryCalls != 1 {
		t.Errorf("primary called %d times, want 1 (breaker should skip it)", primaryCalls)
	}
}

func TestFallbackGroup_Each(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(1, "one", FallbackConfig{})
	fg.AddFallback("two", 2)
	if fg.Len() != 2 {
		t.Fatalf("Len = %d, want 2", fg.Len())
	}
	sum := 0
	fg.Each(func(_ string, v int) { sum += v })
	if sum != 3 {
		t.Errorf("sum = %d, want 3", sum)
	}
}
