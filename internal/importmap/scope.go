package importmap

// ScopeKeys sorts scope prefixes so that the most specific scope comes first.
type ScopeKeys []string

// Len implements the sort.Interface interface.
func (s ScopeKeys) Len() int {
	return len(s)
}

// Less implements the sort.Interface interface.
// longer prefixes first, ties broken by key order
func (s ScopeKeys) Less(i, j int) bool {
	if len(s[i]) == len(s[j]) {
		return s[i] < s[j]
	}
	return len(s[i]) > len(s[j])
}

// Swap implements the sort.Interface interface.
func (s ScopeKeys) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}
