package intent

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		message string
		want    Route
	}{
		{"What is the weather in Paris", RouteWeather},
		{"WEATHER in Oslo please", RouteWeather},
		{"any weatherproof jackets?", RouteWeather},
		{"Tell me a joke", RouteChat},
		{"", RouteChat},
	}

	for _, tc := range cases {
		if got := Classify(tc.message); got != tc.want {
			t.Fatalf("Classify(%q) = %s, want %s", tc.message, got, tc.want)
		}
	}
}

func TestExtractLocation(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"What is the weather in Paris", "Paris"},
		{"weather in   New York  ", "New York"},
		{"Weather IN Tokyo?", "Tokyo"},
		{"What's the weather in Berlin today", "Berlin today"},
		{"Is it raining? weather in Rio de Janeiro!", "Rio de Janeiro"},
		{"weather in Lin", "Lin"},
	}

	for _, tc := range cases {
		got, err := ExtractLocation(tc.message)
		if err != nil {
			t.Fatalf("ExtractLocation(%q) err: %v", tc.message, err)
		}
		if got != tc.want {
			t.Fatalf("ExtractLocation(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestExtractLocationMissing(t *testing.T) {
	for _, message := range []string{
		"weather",
		"How is the weather today",
		"weather in",
		"weather in ?",
		"weather in...",
		"raining in",
	} {
		if _, err := ExtractLocation(message); !errors.Is(err, ErrLocationRequired) {
			t.Fatalf("ExtractLocation(%q) expected ErrLocationRequired, got %v", message, err)
		}
	}
}

func TestExtractLocationDropsTrailingPunctuation(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"weather in Paris?", "Paris"},
		{"weather in Paris ?!", "Paris"},
		{"weather in Paris...", "Paris"},
		{"weather in St. Louis", "St. Louis"},
		{"weather in St. Louis.", "St. Louis"},
		{"weather in Washington, D.C.", "Washington, D.C"},
	}

	for _, tc := range cases {
		got, err := ExtractLocation(tc.message)
		if err != nil {
			t.Fatalf("ExtractLocation(%q) err: %v", tc.message, err)
		}
		if got != tc.want {
			t.Fatalf("ExtractLocation(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}
