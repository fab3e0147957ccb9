// Automated comment replies and direct messages for creator accounts.
//
// This package (`github.com/creatorkit/creatorkit/autodm`) contains the decision and delivery pipeline behind "comment a keyword, get a DM": creators define rules (keyword, match type, post scope, reply variants, DM template, daily quota, once-per-user policy, optional follow gate), and each inbound comment event is matched against them, checked against quotas and dedup policy, and delivered through the social platform's messaging API. Follow-gated rules park the DM until the commenter follows the creator, and a background sweep completes or expires those requests.
//
// Shared counters (daily quota, lifetime stats, reply rotation cursor) are only ever mutated with single conditional SQL updates, so any number of webhook handlers and sweepers can run concurrently against the same database.
//
// See `cmd/autodm` for a daemon built on this package.
package autodm
