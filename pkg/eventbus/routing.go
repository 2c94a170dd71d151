package eventbus

import (
	"reflect"
	"strings"
	"unicode"
)

// TypeName returns the Go type name of event with pointers dereferenced.
func TypeName(event any) string {
	t := reflect.TypeOf(event)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

// EventType strips the trailing "Event" from a type name:
// OrderCreatedEvent -> OrderCreated.
func EventType(typeName string) string {
	return strings.TrimSuffix(typeName, "Event")
}

// RoutingKey derives the dot-separated routing key from an event type name.
// A "." is inserted before every interior capital and the result is
// lower-cased: InventoryReservationFailedEvent -> inventory.reservation.failed.
func RoutingKey(typeName string) string {
	name := EventType(typeName)

	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('.')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RoutingKeyOf is RoutingKey applied to the type of event.
func RoutingKeyOf(event any) string {
	return RoutingKey(TypeName(event))
}

// MatchPattern reports whether key matches a topic-exchange binding pattern.
// Words are separated by "."; "*" matches exactly one word and "#" matches
// zero or more words.
func MatchPattern(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
