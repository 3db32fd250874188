package live

// Spotlight cycles the display highlight through the live lessons. A manual
// selection moves the chosen lesson to the front and restarts the cycle there.
type Spotlight struct {
	order   []string
	current int
}

type SpotlightState struct {
	Current string   `json:"current"`
	Order   []string `json:"order"`
}

// Update replaces the rotation set. Lessons still live keep their relative
// order and new ones are appended, so a manual pick stays at the front.
func (s *Spotlight) Update(ids []string) {
	incoming := make(map[string]bool, len(ids))
	for _, id := range ids {
		incoming[id] = true
	}
	current := s.Current()

	next := make([]string, 0, len(ids))
	kept := map[string]bool{}
	for _, id := range s.order {
		if incoming[id] {
			next = append(next, id)
			kept[id] = true
		}
	}
	for _, id := range ids {
		if !kept[id] {
			next = append(next, id)
			kept[id] = true
		}
	}
	s.order = next
	s.current = 0
	for i, id := range next {
		if id == current {
			s.current = i
			break
		}
	}
}

// Next advances cyclically and returns the new spotlight lesson.
func (s *Spotlight) Next() string {
	if len(s.order) == 0 {
		return ""
	}
	s.current = (s.current + 1) % len(s.order)
	return s.order[s.current]
}

// Select moves id to the front. It reports false when id is not live.
func (s *Spotlight) Select(id string) bool {
	idx := -1
	for i, v := range s.order {
		if v == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	copy(s.order[1:idx+1], s.order[:idx])
	s.order[0] = id
	s.current = 0
	return true
}

func (s *Spotlight) Current() string {
	if len(s.order) == 0 {
		return ""
	}
	return s.order[s.current]
}

func (s *Spotlight) State() SpotlightState {
	return SpotlightState{Current: s.Current(), Order: append([]string{}, s.order...)}
}
