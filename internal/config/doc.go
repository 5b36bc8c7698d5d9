// Config resolution order: Default() values, then whatever config.yaml
// sets, then environment variables of the form COORDINATOR_* — the same
// layering torua's cmd/coordinator/main.go used for its single
// COORDINATOR_ADDR setting, generalized here from one getenv call to a
// YAML file plus a full set of overrides.
package config
