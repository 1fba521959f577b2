/*
main.go - payctl, the payroll administration CLI

PURPOSE:
  Operates directly on the SQLite database the server uses, for payroll
  staff and scripts: manage periods, lock and unlock them, import rate
  cards and print reports as tables or JSON.

COMMANDS:
  payctl periods list [--from --to --end-only]
  payctl periods create --label --start --end --deadline [--id]
  payctl lock <period> [--actor]
  payctl unlock <period>
  payctl autolock                    Lock every period past its deadline
  payctl report period <period> [--contributor]
  payctl report contributor <contributor>
  payctl rates import <file>
  payctl rates list

CONFIGURATION:
  Flags can be set from the environment with the PAYROLL_ prefix, e.g.
  PAYROLL_DB=./data/payroll.db or PAYROLL_ACTOR=jane.

SEE ALSO:
  - commands.go: Command definitions
  - cmd/server/main.go: HTTP server
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
