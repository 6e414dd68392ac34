package mirrorconfig

import "sort"

// ExcludeColumns returns the source columns the destination does not declare,
// deduplicated and sorted.
func ExcludeColumns(source, destination []string) []string {
	declared := make(map[string]struct{}, len(destination))
	for _, name := range destination {
		declared[name] = struct{}{}
	}
	seen := make(map[string]struct{}, len(source))
	out := make([]string, 0)
	for _, name := range source {
		if _, ok := declared[name]; ok {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
