// Package jwks fetches an identity provider's JSON Web Key Set and keeps
// the resulting verification keys available to token verifiers.
//
// # Snapshots
//
// A [KeySet] is an immutable snapshot: once returned by [ParseKeySet] or
// [Fetcher.Fetch] it is never modified. A [Store] owns the current
// snapshot behind an atomic pointer. Refreshing builds a complete new
// snapshot and swaps it in, so a concurrent verification either sees the
// old set or the new one, never a mixture. A failed refresh leaves the
// previous snapshot in place.
//
// # Fetch errors
//
// Every failure from [Fetcher.Fetch] is an *sserr.Error for which
// [sserr.IsFetchError] reports true. A single malformed key fails the
// whole fetch; partial key sets are never produced. A fetch that exceeds
// its timeout fails with [sserr.CodeKeySetFetchTimeout], distinct from
// other network failures.
//
// # Startup and refresh
//
// [Store.Init] performs the startup fetch. If it fails and no snapshot is
// available (neither already loaded nor restorable from a
// [SnapshotCache]) the error is returned and the service must not start.
// [Refresher] re-fetches on a cron schedule, and [Store.RefreshOnMiss]
// re-fetches, rate limited, when a token names a kid the current snapshot
// does not know.
package jwks
