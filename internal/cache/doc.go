// Package cache holds the three caches used by the dispatcher: the sharded
// on-disk request cache, the per-handler module cache and the in-process
// runtime cache, plus the cleanup allow-list.
//
// Layout under the cache root:
//
//	requests/0, requests/1, ...   request cache shards (JSON objects)
//	<handler>/<file>              module cache blobs
package cache
