package task

// SetRemoveAll replaces the directory removal used by s.
func SetRemoveAll(s *Sweeper, removeAll func(path string) error) {
	s.removeAll = removeAll
}
