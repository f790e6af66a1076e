package interchange

// IsStale reports whether the document at path is past its TTL. Documents
// without a ttl never go stale. Any read or parse failure counts as stale.
func (s *Store) IsStale(path string) bool {
	doc, err := s.Read(path)
	if err != nil {
		return true
	}
	expiry, ok := doc.Meta.Expiry()
	if !ok {
		return false
	}
	return s.now().After(expiry)
}
