package util

import "testing"

func TestLookupKeyDeterministic(t *testing.T) {
	a := LookupKey("live", "nav", "en", "site:/blog", false)
	b := LookupKey("live", "nav", "en", "site:/blog", false)
	if a != b {
		t.Fatalf("same identity must hash equal: %q vs %q", a, b)
	}
	if len(a) != len("live")+1+16 {
		t.Fatalf("unexpected key shape: %q", a)
	}
}

// Field boundaries must matter: shifting bytes between adjacent fields has to
// change the key even though the concatenation is identical.
func TestLookupKeyNoDelimiterCollisions(t *testing.T) {
	keys := map[string]string{
		"ab|c": LookupKey("l", "ab", "c", "", false),
		"a|bc": LookupKey("l", "a", "bc", "", false),
		"abc|": LookupKey("l", "abc", "", "", false),
		"|abc": LookupKey("l", "", "abc", "", false),
	}
	seen := map[string]string{}
	for id, k := range keys {
		if prev, ok := seen[k]; ok {
			t.Fatalf("identities %q and %q collide on %q", prev, id, k)
		}
		seen[k] = id
	}
}

func TestLookupKeyGlobalFlag(t *testing.T) {
	scoped := LookupKey("l", "nav", "en", "", false)
	global := LookupKey("l", "nav", "en", "", true)
	if scoped == global {
		t.Fatalf("global flag must be part of the identity")
	}
}
