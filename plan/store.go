package plan

// ListOpts filters plan listings. Results are ordered by sort order, then
// creation time.
type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
