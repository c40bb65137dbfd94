// Command switchyard is a thin cobra driver over the switchyard engine: it
// exists so the library is reachable from a shell. Every subcommand does
// nothing the engine itself doesn't already do — load a Policy, build a
// PlanInput, call one of Plan/Preflight/Apply/PlanRollbackOf/PruneBackups,
// print the result.
package main

import "os"

func main() {
	os.Exit(Execute())
}
