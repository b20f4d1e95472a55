package store

// featureTables are the tables that only exist under the extended schema.
var featureTables = []string{"checkpoints", "background_tasks", "subagents", "vscode_integrations"}

// HasExtendedSchema reports whether the database carries the extended
// feature columns and tables. The probe runs once per process lifetime and
// is memoized; downstream writers branch on the cached flag instead of
// re-probing per call. A probe failure fails closed to the legacy write path.
func (s *Store) HasExtendedSchema() bool {
	s.extOnce.Do(func() {
		s.extOK = s.probeExtended()
	})
	return s.extOK
}

func (s *Store) probeExtended() bool {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('sessions') WHERE name = 'session_type'",
	).Scan(&n)
	if err != nil || n == 0 {
		return false
	}

	for _, table := range featureTables {
		err := s.db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&n)
		if err != nil || n == 0 {
			return false
		}
	}
	return true
}
