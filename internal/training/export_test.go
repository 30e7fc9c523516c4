package training

// SetEntryLimit lowers the per-entry extraction limit.
func (r *Registry) SetEntryLimit(limit int64) {
	r.entryLimit = limit
}
