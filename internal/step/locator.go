package step

import (
	"fmt"

	"github.com/streamspace/browser-orchestrator/internal/model"
)

// compileLocator translates a tagged-union model.Locator into the flat
// selector string driver.RodAdapter's element() and ElementCount() consume:
// plain CSS for selector/id/class, "xpath="-prefixed for xpath, "text="
// -prefixed for text, and a CSS attribute selector for role (go-rod has no
// native ARIA-role query, so role approximates to [role="value"]).
func compileLocator(loc *model.Locator) (string, error) {
	if loc == nil {
		return "", fmt.Errorf("compileLocator: nil locator")
	}
	switch loc.Kind {
	case model.LocatorSelector:
		return loc.Value, nil
	case model.LocatorID:
		return "#" + loc.Value, nil
	case model.LocatorClass:
		return "." + loc.Value, nil
	case model.LocatorXPath:
		return "xpath=" + loc.Value, nil
	case model.LocatorText:
		return "text=" + loc.Value, nil
	case model.LocatorRole:
		return fmt.Sprintf(`[role="%s"]`, loc.Value), nil
	default:
		return "", fmt.Errorf("compileLocator: unknown locator kind %q", loc.Kind)
	}
}

// nthOf returns the locator's Nth index, defaulting to 0 (first match).
func nthOf(loc *model.Locator) int {
	if loc == nil || loc.Nth == nil {
		return 0
	}
	return *loc.Nth
}
