package types

import "testing"

func TestLocationCache_Resolve(t *testing.T) {
	var c LocationCache

	loc, ok := c.Resolve("America/New_York")
	if !ok || loc.String() != "America/New_York" {
		t.Errorf("known zone: got %v, %v", loc, ok)
	}
	loc, ok = c.Resolve("")
	if !ok || loc.String() != DefaultUserTimezone {
		t.Errorf("empty zone: got %v, %v", loc, ok)
	}
	loc, ok = c.Resolve("Mars/Olympus_Mons")
	if ok || loc.String() != DefaultUserTimezone {
		t.Errorf("unknown zone: got %v, %v", loc, ok)
	}
	if _, ok = c.Resolve("Mars/Olympus_Mons"); ok {
		t.Error("unknown zone must stay unknown on the second lookup")
	}
}
