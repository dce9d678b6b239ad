package utils

import "sort"

// ToStringSet returns the string members of slice, sorted and de-duplicated.
func ToStringSet[T any](slice []T) []string {
	seen := make(map[string]struct{}, len(slice))
	out := make([]string, 0, len(slice))
	for _, v := range slice {
		s, ok := any(v).(string)
		if !ok || s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
