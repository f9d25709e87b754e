package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/core/internal/kernel/capability"
	"github.com/agentkernel/core/internal/kernel/id"
)

func TestCheckDeniesWithoutGrant(t *testing.T) {
	store := capability.New()
	plugin := id.New(id.KindPlugin)

	d := store.Check(plugin, "net.outbound", "", nil)
	assert.False(t, d.Allowed)
}

func TestCheckAllowsGrantedEffect(t *testing.T) {
	store := capability.New()
	plugin := id.New(id.KindPlugin)
	require.NoError(t, store.Grant(capability.Grant{Plugin: plugin, Effect: "net.outbound"}))

	d := store.Check(plugin, "net.outbound", "", nil)
	assert.True(t, d.Allowed)
}

func TestDenyRuleTakesPrecedenceOverGrant(t *testing.T) {
	store := capability.New()
	plugin := id.New(id.KindPlugin)
	require.NoError(t, store.Grant(capability.Grant{Plugin: plugin, Effect: "fs.read"}))
	store.SetRule(plugin, "fs.read", true)

	d := store.Check(plugin, "fs.read", "", nil)
	assert.False(t, d.Allowed)
}

func TestRevokeRemovesGrant(t *testing.T) {
	store := capability.New()
	plugin := id.New(id.KindPlugin)
	require.NoError(t, store.Grant(capability.Grant{Plugin: plugin, Effect: "fs.read"}))
	store.Revoke(plugin, "fs.read")

	d := store.Check(plugin, "fs.read", "", nil)
	assert.False(t, d.Allowed)
}

func TestCheckValidatesPayloadAgainstSchema(t *testing.T) {
	store := capability.New()
	plugin := id.New(id.KindPlugin)
	schema := []byte(`{
		"type": "object",
		"properties": {"url": {"type": "string"}},
		"required": ["url"]
	}`)
	require.NoError(t, store.Grant(capability.Grant{Plugin: plugin, Effect: "net.outbound", PayloadSchema: schema}))

	ok := store.Check(plugin, "net.outbound", "", []byte(`{"url": "https://example.com"}`))
	assert.True(t, ok.Allowed)

	bad := store.Check(plugin, "net.outbound", "", []byte(`{}`))
	assert.False(t, bad.Allowed)
}

func TestGrantRejectsMalformedSchema(t *testing.T) {
	store := capability.New()
	plugin := id.New(id.KindPlugin)
	err := store.Grant(capability.Grant{Plugin: plugin, Effect: "net.outbound", PayloadSchema: []byte(`not json`)})
	assert.Error(t, err)
}

func TestCheckDeniesOutOfScopeTarget(t *testing.T) {
	store := capability.New()
	plugin := id.New(id.KindPlugin)
	require.NoError(t, store.Grant(capability.Grant{
		Plugin:    plugin,
		Effect:    "fs.read",
		Kind:      capability.FileAccess,
		Allowlist: []string{"/tmp/allowed"},
	}))

	inScope := store.Check(plugin, "fs.read", "/tmp/allowed/data.json", nil)
	assert.True(t, inScope.Allowed)

	outOfScope := store.Check(plugin, "fs.read", "/etc/passwd", nil)
	assert.False(t, outOfScope.Allowed)
	assert.Contains(t, outOfScope.Reason, "out of scope")
}

func TestCheckRejectsSiblingPathOutsideAllowlistPrefix(t *testing.T) {
	store := capability.New()
	plugin := id.New(id.KindPlugin)
	require.NoError(t, store.Grant(capability.Grant{
		Plugin:    plugin,
		Effect:    "fs.read",
		Kind:      capability.FileAccess,
		Allowlist: []string{"/tmp/allowed"},
	}))

	d := store.Check(plugin, "fs.read", "/tmp/allowed-evil/data.json", nil)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "out of scope")
}

func TestCheckSkipsNarrowingWithoutTypedKind(t *testing.T) {
	store := capability.New()
	plugin := id.New(id.KindPlugin)
	require.NoError(t, store.Grant(capability.Grant{Plugin: plugin, Effect: "fs.read"}))

	d := store.Check(plugin, "fs.read", "/etc/passwd", nil)
	assert.True(t, d.Allowed, "an untyped grant carries no allowlist to narrow against")
}

func TestCheckPrefersNarrowestMatchingAllowlistEntry(t *testing.T) {
	plugin := id.New(id.KindPlugin)
	grant := capability.Grant{
		Plugin:    plugin,
		Effect:    "fs.read",
		Kind:      capability.FileAccess,
		Allowlist: []string{"/tmp", "/tmp/allowed"},
	}

	// Both allowlist entries admit the same target. Check reports only the
	// admission; which entry matched ("/tmp/allowed", the narrower) is not
	// exposed in its Decision.
	store := capability.New()
	require.NoError(t, store.Grant(grant))
	d := store.Check(plugin, "fs.read", "/tmp/allowed/data.json", nil)
	assert.True(t, d.Allowed)
}

func TestAddRuleAppliesSelectorsAndPredicateInOrder(t *testing.T) {
	store := capability.New()
	plugin := id.New(id.KindPlugin)
	require.NoError(t, store.Grant(capability.Grant{Plugin: plugin, Effect: "tool.invoke"}))

	require.NoError(t, store.AddRule(capability.PolicyRule{
		RuleID:          "deny-dangerous-tool",
		SubjectSelector: capability.Wildcard,
		ActionSelector:  capability.Selector("tool.invoke"),
		Deny:            true,
		Predicate:       []byte(`{"type":"object","properties":{"tool":{"const":"rm"}},"required":["tool"]}`),
	}))

	denied := store.Check(plugin, "tool.invoke", "", []byte(`{"tool":"rm"}`))
	assert.False(t, denied.Allowed)
	assert.Contains(t, denied.Reason, "deny-dangerous-tool")

	allowed := store.Check(plugin, "tool.invoke", "", []byte(`{"tool":"ls"}`))
	assert.True(t, allowed.Allowed, "the predicate should not match a differing payload")
}

func TestAddRuleSubjectSelectorScopesToOnePlugin(t *testing.T) {
	store := capability.New()
	a := id.New(id.KindPlugin)
	b := id.New(id.KindPlugin)
	require.NoError(t, store.Grant(capability.Grant{Plugin: a, Effect: "net.outbound"}))
	require.NoError(t, store.Grant(capability.Grant{Plugin: b, Effect: "net.outbound"}))

	require.NoError(t, store.AddRule(capability.PolicyRule{
		RuleID:          "deny-a-only",
		SubjectSelector: capability.Selector(a.String()),
		ActionSelector:  capability.Wildcard,
		Deny:            true,
	}))

	assert.False(t, store.Check(a, "net.outbound", "", nil).Allowed)
	assert.True(t, store.Check(b, "net.outbound", "", nil).Allowed)
}

func TestEffectsListsGrantedEffects(t *testing.T) {
	store := capability.New()
	plugin := id.New(id.KindPlugin)
	require.NoError(t, store.Grant(capability.Grant{Plugin: plugin, Effect: "net.outbound"}))
	require.NoError(t, store.Grant(capability.Grant{Plugin: plugin, Effect: "fs.read"}))

	effects := store.Effects(plugin)
	assert.ElementsMatch(t, []capability.Effect{"net.outbound", "fs.read"}, effects)
}
