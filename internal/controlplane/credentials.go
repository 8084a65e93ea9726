package controlplane

import "github.com/streamspace/browser-orchestrator/internal/secrets"

// injectCredentials merges the consolidated secret's sub-object for toolName
// into fields under the "credentials" key, if one is configured. A missing
// sub-object is a silent pass-through (spec.md §9): the step proceeds
// without credentials rather than failing.
func injectCredentials(store *secrets.Store, toolName string, fields map[string]interface{}) map[string]interface{} {
	if store == nil || toolName == "" {
		return fields
	}
	creds := store.CredentialsFor(toolName)
	if creds == nil {
		return fields
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["credentials"] = creds
	return fields
}
