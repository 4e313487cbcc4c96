package chat

// HeldLocks reports how many owners currently have a lock entry.
func HeldLocks(s *Service) int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}
