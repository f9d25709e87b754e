// Package capability holds the kernel's capability grants and policy rules:
// which effects (network, filesystem, tool invocation) a plugin may exercise,
// the allowlist that narrows each grant to a specific scope, and the
// deny-precedence policy evaluation the PluginHost consults before every
// invocation. The allow/deny-list shape and its deny-first
// precedence are grounded on runtime/a2a/policy/policy.go's skill filtering,
// generalized from a single header-scoped Policy to a per-plugin Store with
// grant/revoke, typed allowlist narrowing, an ordered policy-rule list, and
// an optional payload schema per capability.
package capability

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentkernel/core/internal/kernel/id"
)

// Effect names a class of side effect a plugin might attempt. The kernel
// does not interpret these strings; PluginHost and individual plugin
// sandboxes agree on the vocabulary (e.g. "net.outbound", "fs.read",
// "tool.invoke:search").
type Effect string

// Kind classifies a Grant as one of the four typed capabilities a manifest
// may request. A Grant with no Kind (the zero value) carries no allowlist
// semantics: Check skips narrowing for it and only gates on the grant's
// existence, the same as before typed capabilities existed.
type Kind string

const (
	// NetAccess grants outbound network access, narrowed to an allowlist of
	// hosts.
	NetAccess Kind = "net_access"
	// FileAccess grants filesystem access, narrowed to an allowlist of path
	// prefixes.
	FileAccess Kind = "file_access"
	// EnvRead grants environment-variable reads, narrowed to an allowlist of
	// keys.
	EnvRead Kind = "env_read"
	// InvokeRate grants plugin invocation up to RateLimit calls/sec. It
	// carries no allowlist; Check never narrows it by target.
	InvokeRate Kind = "invoke_rate"
)

// Grant authorizes a single plugin to exercise an Effect. Kind and Allowlist
// together form the grant's authoritative filter: when Kind is one of
// NetAccess, FileAccess or EnvRead, Check's target argument must fall
// within Allowlist or the attempt is denied as out of scope, regardless of
// the grant's bare existence. PayloadSchema, if set, is compiled once and
// used to validate every invocation's request payload, mirroring
// validatePayloadJSONAgainstSchema in the upstream registry service this
// kernel's plugin model was adapted from.
type Grant struct {
	Plugin id.Id
	Effect Effect

	Kind      Kind
	Allowlist []string // hosts, path prefixes, or env keys, per Kind
	RateLimit float64  // calls/sec; InvokeRate only

	GrantedAt time.Time
	GrantedBy id.Id

	PayloadSchema json.RawMessage
}

// inScope reports whether target falls within g's allowlist, along with the
// matching entry. Kinds without allowlist semantics (the zero Kind, or
// InvokeRate) always report in scope: there is nothing to narrow against.
// When more than one allowlist entry matches, the narrowest (longest)
// entry is returned — the tie-break a plugin host would use to report
// which scope admitted the request, since a single Grant can only ever
// be active for a given (plugin, effect) pair at once, and there is no
// second, more-recently-granted Grant to prefer over it.
func (g Grant) inScope(target string) (ok bool, matched string) {
	switch g.Kind {
	case NetAccess, EnvRead:
		for _, entry := range g.Allowlist {
			if entry == target && (!ok || len(entry) > len(matched)) {
				ok, matched = true, entry
			}
		}
		return ok, matched
	case FileAccess:
		for _, entry := range g.Allowlist {
			if pathInScope(target, entry) && (!ok || len(entry) > len(matched)) {
				ok, matched = true, entry
			}
		}
		return ok, matched
	default:
		return true, ""
	}
}

// pathInScope reports whether target is prefix or a descendant of it,
// matching at path-separator boundaries so "/tmp/allowed-evil" does not
// fall in scope of the allowlist entry "/tmp/allowed".
func pathInScope(target, prefix string) bool {
	target = filepath.Clean(target)
	prefix = filepath.Clean(prefix)
	if target == prefix {
		return true
	}
	return strings.HasPrefix(target, prefix+string(filepath.Separator))
}

// Selector matches a plugin id or an effect name within a PolicyRule.
// Wildcard matches anything; any other value must match exactly.
type Selector string

// Wildcard is the Selector that matches every subject or action.
const Wildcard Selector = "*"

func (s Selector) matches(v string) bool {
	return s == Wildcard || string(s) == v
}

// PolicyRule is one entry in the Store's ordered policy list: a matcher
// over (subject, action) pairs, plus an optional predicate narrowing it to
// payloads satisfying a JSON Schema, and the allow/deny verdict it
// contributes when it matches. Deny always takes precedence: if any
// matching rule denies, the effect is denied regardless of how many
// matching rules allow it or the order rules were added in.
type PolicyRule struct {
	RuleID          string
	SubjectSelector Selector // plugin id to match, or Wildcard
	ActionSelector  Selector // effect to match, or Wildcard
	Deny            bool
	Predicate       json.RawMessage // optional JSON Schema the payload must satisfy to match
}

// Decision is the result of evaluating a plugin's attempt to exercise an
// effect.
type Decision struct {
	Allowed bool
	Reason  string
}

// Store holds every grant and policy rule the kernel knows about and
// answers Check queries during plugin invocation. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	grants map[id.Id]map[Effect]*compiledGrant
	rules  []*compiledRule
}

type compiledGrant struct {
	grant  Grant
	schema *jsonschema.Schema
}

type compiledRule struct {
	rule   PolicyRule
	schema *jsonschema.Schema
}

// New constructs an empty capability Store.
func New() *Store {
	return &Store{
		grants: make(map[id.Id]map[Effect]*compiledGrant),
	}
}

// Grant records that plugin may exercise effect, optionally narrowed to
// g.Kind/g.Allowlist. If g.PayloadSchema is non-empty it is compiled
// immediately; a malformed schema is rejected rather than silently
// accepted. GrantedAt defaults to now if zero.
func (s *Store) Grant(g Grant) error {
	if g.GrantedAt.IsZero() {
		g.GrantedAt = time.Now()
	}
	cg := &compiledGrant{grant: g}
	if len(g.PayloadSchema) > 0 {
		schema, err := compileSchema(g.PayloadSchema)
		if err != nil {
			return fmt.Errorf("capability: compile schema for %s/%s: %w", g.Plugin, g.Effect, err)
		}
		cg.schema = schema
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[g.Plugin] == nil {
		s.grants[g.Plugin] = make(map[Effect]*compiledGrant)
	}
	s.grants[g.Plugin][g.Effect] = cg
	return nil
}

// Revoke removes a previously recorded grant. Revoking an effect that was
// never granted is a no-op.
func (s *Store) Revoke(plugin id.Id, effect Effect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[plugin], effect)
}

// AddRule appends rule to the Store's ordered policy list. A rule with a
// non-empty Predicate is compiled immediately; a malformed predicate
// schema is rejected rather than silently ignored.
func (s *Store) AddRule(rule PolicyRule) error {
	cr := &compiledRule{rule: rule}
	if len(rule.Predicate) > 0 {
		schema, err := compileSchema(rule.Predicate)
		if err != nil {
			return fmt.Errorf("capability: compile predicate for rule %s: %w", rule.RuleID, err)
		}
		cr.schema = schema
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, cr)
	return nil
}

// SetRule is a convenience for the common case of a single-plugin,
// single-effect, predicate-free rule: it builds and appends the
// corresponding PolicyRule. Prefer AddRule directly for selectors spanning
// more than one plugin or effect, or for predicate-narrowed rules.
func (s *Store) SetRule(plugin id.Id, effect Effect, deny bool) {
	_ = s.AddRule(PolicyRule{
		RuleID:          fmt.Sprintf("%s:%s", plugin, effect),
		SubjectSelector: Selector(plugin.String()),
		ActionSelector:  Selector(effect),
		Deny:            deny,
	})
}

// Check evaluates whether plugin may exercise effect against target (the
// invocation's request target — a host, a path, an env key — empty if the
// effect has none) with the given request payload (nil or empty if the
// effect takes no payload). Evaluation proceeds in three steps, in order:
//
//  1. No grant at all for (plugin, effect): deny.
//  2. The grant's allowlist, if any, does not admit target: deny "out of
//     scope". A grant with no typed Kind carries no allowlist and always
//     passes this step.
//  3. Any matching policy rule denies: deny, deny-takes-precedence over any
//     matching allow rule. No matching rule at all is an implicit allow.
//
// A surviving attempt is finally checked against the grant's payload
// schema, if one was set.
func (s *Store) Check(plugin id.Id, effect Effect, target string, payload json.RawMessage) Decision {
	s.mu.RLock()
	cg, hasGrant := s.grants[plugin][effect]
	rules := s.rules
	s.mu.RUnlock()

	if !hasGrant {
		return Decision{Allowed: false, Reason: "no capability grant for effect"}
	}

	if target != "" {
		if ok, _ := cg.grant.inScope(target); !ok {
			return Decision{Allowed: false, Reason: "out of scope"}
		}
	}

	if ruleID, denied := evaluatePolicy(rules, plugin, effect, payload); denied {
		reason := "policy denies effect"
		if ruleID != "" {
			reason = fmt.Sprintf("policy rule %s denies effect", ruleID)
		}
		return Decision{Allowed: false, Reason: reason}
	}

	if cg.schema != nil {
		var doc any
		p := payload
		if len(p) == 0 {
			p = []byte("null")
		}
		if err := json.Unmarshal(p, &doc); err != nil {
			return Decision{Allowed: false, Reason: fmt.Sprintf("invalid payload: %v", err)}
		}
		if err := cg.schema.Validate(doc); err != nil {
			return Decision{Allowed: false, Reason: fmt.Sprintf("payload schema violation: %v", err)}
		}
	}
	return Decision{Allowed: true}
}

// evaluatePolicy scans rules for any entry matching plugin/effect/payload
// and denying it. Deny-takes-precedence: the scan does not stop at the
// first match, only at the first matching deny.
func evaluatePolicy(rules []*compiledRule, plugin id.Id, effect Effect, payload json.RawMessage) (ruleID string, denied bool) {
	for _, r := range rules {
		if !r.rule.SubjectSelector.matches(plugin.String()) {
			continue
		}
		if !r.rule.ActionSelector.matches(string(effect)) {
			continue
		}
		if r.schema != nil {
			var doc any
			p := payload
			if len(p) == 0 {
				p = []byte("null")
			}
			if err := json.Unmarshal(p, &doc); err != nil || r.schema.Validate(doc) != nil {
				continue
			}
		}
		if r.rule.Deny {
			return r.rule.RuleID, true
		}
	}
	return "", false
}

// Effects returns every effect currently granted to plugin, for
// introspection and manifest display.
func (s *Store) Effects(plugin id.Id) []Effect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Effect, 0, len(s.grants[plugin]))
	for e := range s.grants[plugin] {
		out = append(out, e)
	}
	return out
}

func compileSchema(schemaBytes json.RawMessage) (*jsonschema.Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("schema.json")
}
