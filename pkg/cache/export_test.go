package cache

// PutRaw plants raw record bytes for key, bypassing encoding.
func PutRaw[V any](s *InMemoryStore[V], key string, data []byte) {
	s.put(key, data)
}
