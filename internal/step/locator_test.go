package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/browser-orchestrator/internal/model"
)

func TestCompileLocator(t *testing.T) {
	cases := []struct {
		name string
		loc  model.Locator
		want string
	}{
		{"selector passes through", model.Locator{Kind: model.LocatorSelector, Value: "div.card"}, "div.card"},
		{"id gets hash prefix", model.Locator{Kind: model.LocatorID, Value: "email"}, "#email"},
		{"class gets dot prefix", model.Locator{Kind: model.LocatorClass, Value: "btn-primary"}, ".btn-primary"},
		{"xpath gets xpath= prefix", model.Locator{Kind: model.LocatorXPath, Value: "//button"}, "xpath=//button"},
		{"text gets text= prefix", model.Locator{Kind: model.LocatorText, Value: "Sign in"}, "text=Sign in"},
		{"role becomes attribute selector", model.Locator{Kind: model.LocatorRole, Value: "button"}, `[role="button"]`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := compileLocator(&c.loc)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestCompileLocatorRejectsNil(t *testing.T) {
	_, err := compileLocator(nil)
	require.Error(t, err)
}

func TestNthOfDefaultsToZero(t *testing.T) {
	assert.Equal(t, 0, nthOf(nil))
	assert.Equal(t, 0, nthOf(&model.Locator{Kind: model.LocatorSelector, Value: "a"}))
	two := 2
	assert.Equal(t, 2, nthOf(&model.Locator{Kind: model.LocatorSelector, Value: "a", Nth: &two}))
}
