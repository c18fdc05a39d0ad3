package driven

// PrefetchScheduler accepts background prefetch requests for a playlist.
// Schedule must not block; what happens to the request afterwards is not
// reported back to the caller.
type PrefetchScheduler interface {
	Schedule(playlistURL string, headers map[string]string)
}
