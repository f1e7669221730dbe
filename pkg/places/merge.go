package places

// MergeUnique appends to existing every incoming place whose URI is not
// already present, preserving order, and reports how many were added.
//
// Places without a URI cannot be matched and are always appended, so
// merging the same URI-less place twice duplicates it.
func MergeUnique(existing, incoming []Place) ([]Place, int) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]Place, 0, len(existing)+len(incoming))

	for _, p := range existing {
		if p.URI != "" {
			seen[p.URI] = struct{}{}
		}
		merged = append(merged, p)
	}

	added := 0
	for _, p := range incoming {
		if p.URI != "" {
			if _, dup := seen[p.URI]; dup {
				continue
			}
			seen[p.URI] = struct{}{}
		}
		p.EnsureKey()
		merged = append(merged, p)
		added++
	}
	return merged, added
}
