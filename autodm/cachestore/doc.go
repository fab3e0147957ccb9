// Short-lived string cache with a fixed TTL and explicit purge.
//
// The engine uses it to remember confirmed follow relationships, so that a burst of comments from
// the same follower does not turn into a burst of follow-status lookups against the platform API.
// Only positive results are cached: a user who has not followed yet must be re-checked.
package cachestore
