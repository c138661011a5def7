package session

// FilterSparseQueries drops the observations of search terms seen in fewer
// than minSessions distinct sessions. It returns the kept observations and
// the number of search terms removed. minSessions <= 1 keeps everything.
func FilterSparseQueries(observations []Observation, minSessions int) ([]Observation, int) {
	if minSessions <= 1 {
		return observations, 0
	}

	sessions := make(map[string]map[string]struct{})
	for _, o := range observations {
		ids, ok := sessions[o.SearchTerm]
		if !ok {
			ids = make(map[string]struct{})
			sessions[o.SearchTerm] = ids
		}
		ids[o.SessionID] = struct{}{}
	}

	removed := 0
	for _, ids := range sessions {
		if len(ids) < minSessions {
			removed++
		}
	}
	if removed == 0 {
		return observations, 0
	}

	kept := make([]Observation, 0, len(observations))
	for _, o := range observations {
		if len(sessions[o.SearchTerm]) >= minSessions {
			kept = append(kept, o)
		}
	}
	return kept, removed
}
