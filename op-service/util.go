package op_service

import "strings"

// PrefixEnvVar returns the env var name for a flag, prefixed with the service name.
func PrefixEnvVar(prefix, suffix string) []string {
	return []string{prefix + "_" + suffix}
}

// ValidateEnvVars returns all env vars that look like they belong to the service,
// but do not match any of the known flag env vars.
func ValidateEnvVars(prefix string, flagEnvVars []string, environ []string) []string {
	known := make(map[string]struct{}, len(flagEnvVars))
	for _, v := range flagEnvVars {
		known[v] = struct{}{}
	}
	var unknown []string
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, prefix+"_") {
			continue
		}
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	return unknown
}
