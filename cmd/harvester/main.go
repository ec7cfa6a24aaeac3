// Command harvester polls a paginated search API and stores every result in
// SQLite or Postgres.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
