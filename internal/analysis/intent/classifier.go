package intent

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Route 表示一条消息应当交给哪个下游处理。
type Route string

const (
	RouteChat    Route = "chat"
	RouteWeather Route = "weather"
)

const (
	weatherKeyword = "weather"
	locationMarker = "in"
)

// ErrLocationRequired is returned when a weather message names no location.
var ErrLocationRequired = errors.New("weather question needs a location, e.g. \"What is the weather in Paris?\"")

// Classify picks the route for message. It performs no I/O.
func Classify(message string) Route {
	if strings.Contains(strings.ToLower(message), weatherKeyword) {
		return RouteWeather
	}
	return RouteChat
}

// ExtractLocation returns the text after the first standalone "in", trimmed of
// whitespace and trailing sentence punctuation.
func ExtractLocation(message string) (string, error) {
	idx := indexWord(message, locationMarker)
	if idx < 0 {
		return "", ErrLocationRequired
	}

	location := strings.TrimSpace(message[idx+len(locationMarker):])
	location = strings.TrimSpace(strings.TrimRight(location, "?!.。？！ "))
	if location == "" {
		return "", ErrLocationRequired
	}
	return location, nil
}

// indexWord finds word in s ignoring ASCII case, only where it is not part of
// a longer word ("Berlin", "raining").
func indexWord(s, word string) int {
	for i := 0; i+len(word) <= len(s); i++ {
		if !strings.EqualFold(s[i:i+len(word)], word) {
			continue
		}
		if before, _ := utf8.DecodeLastRuneInString(s[:i]); i > 0 && isWordRune(before) {
			continue
		}
		if after, _ := utf8.DecodeRuneInString(s[i+len(word):]); i+len(word) < len(s) && isWordRune(after) {
			continue
		}
		return i
	}
	return -1
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
