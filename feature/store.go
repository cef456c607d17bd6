package feature

// ListOpts filters feature listings. An empty Type matches every feature.
type ListOpts struct {
	Type   Type
	Limit  int
	Offset int
}
