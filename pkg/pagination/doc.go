// Package pagination drives a search run: it obtains an access token, fetches
// the first page, and then follows the continuation cursor on a fixed cadence
// until the result set is exhausted or a fetch fails.
//
// Example usage:
//
//	driver := pagination.NewDriver(apiClient, itemStore, pagination.DefaultConfig(), logger)
//	run := driver.Start(ctx, search.Credentials{ConsumerKey: key, ConsumerSecret: secret}, "golang")
//	<-run.Done()
//	outcome := run.Wait()
//
// The driver:
//   - Runs every fetch+upsert on one executor goroutine, one job at a time
//   - Never lets two ticks overlap; ticks that fire during a fetch are dropped
//   - Stops the cadence as soon as the run terminates
//   - Closes Done exactly once, after the outcome is final
//   - Leaves pages upserted before a failure committed
package pagination
