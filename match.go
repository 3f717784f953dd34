package frontproxy

import "strings"

// MatchCriteria maps a request attribute name — "url", "host", "port", or
// any header name — to the set of acceptable values. A criterion absent
// from the map matches every request.
type MatchCriteria map[string][]string

// matches reports whether req satisfies every criterion. "url" is a
// starts-with test against the request-target; everything else is exact
// equality against the request's value for that attribute.
func (c MatchCriteria) matches(req *Request) bool {
	for attr, values := range c {
		actual, _ := req.Attr(attr)

		if attr == "url" {
			if !hasAnyPrefix(actual, values) {
				return false
			}
			continue
		}

		if !contains(values, actual) {
			return false
		}
	}
	return true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, c := range values {
		if c == v {
			return true
		}
	}
	return false
}

// Rule pairs a handler with the criteria that select it.
type Rule struct {
	Criteria MatchCriteria
	Handler  Handler
}

// Table is an ordered sequence of rules, built once from config. Ordering
// is significant: more specific rules must precede less specific ones —
// the config layer is responsible for supplying that order.
type Table []Rule

// Dispatch returns the first handler whose criteria all match req.
func (t Table) Dispatch(req *Request) (Handler, bool) {
	for _, rule := range t {
		if rule.Criteria.matches(req) {
			return rule.Handler, true
		}
	}
	return nil, false
}

// AsyncRule pairs match criteria with whichever handler flavor the task
// kind produced: Sync for the kinds that never suspend (static, health),
// Async for the kinds that do (proxy, load balance). Exactly one is set.
type AsyncRule struct {
	Criteria MatchCriteria
	Sync     Handler
	Async    AsyncHandler
}

// AsyncTable is the cooperative strategy's counterpart to Table.
type AsyncTable []AsyncRule

// Dispatch returns the first matching rule's handler, reporting which
// flavor it is so the caller can invoke the right one.
func (t AsyncTable) Dispatch(req *Request) (sync Handler, async AsyncHandler, ok bool) {
	for _, rule := range t {
		if rule.Criteria.matches(req) {
			return rule.Sync, rule.Async, true
		}
	}
	return nil, nil, false
}
