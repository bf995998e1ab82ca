package interceptors

import "fmt"

// GetProfileConfig returns the table at
// [http.interceptors.<interceptor>.profiles.<profile>] from all, which is
// Config.HTTP.Interceptors.
func GetProfileConfig(all map[string]map[string]any, interceptor, profile string) (map[string]any, error) {
	section, ok := all[interceptor]
	if !ok {
		return nil, fmt.Errorf("interceptor %q is not configured (wanted profile %q)", interceptor, profile)
	}
	profiles, err := table(section, "profiles")
	if err != nil {
		return nil, fmt.Errorf("http.interceptors.%s: %w", interceptor, err)
	}
	p, err := table(profiles, profile)
	if err != nil {
		return nil, fmt.Errorf("http.interceptors.%s.profiles: %w", interceptor, err)
	}
	return p, nil
}

func table(m map[string]any, key string) (map[string]any, error) {
	raw, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%q not found", key)
	}
	t, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%q is %T, not a table", key, raw)
	}
	return t, nil
}
