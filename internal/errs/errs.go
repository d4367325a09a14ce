/*Package errs implements the core's error taxonomy: precondition
violations, structural invariant breaks, and collective failures are all
fatal and abort the process with a diagnostic; recoverable numerical events
are logged and execution continues.
*/
package errs

import (
	"fmt"
	"log"
	"os"
	"runtime/debug"
)

// Precondition reports a violated particle-level precondition (negative
// density, non-positive mass, non-finite coordinates) and kills the process.
// worker and id identify the offending particle so the failure can be
// reproduced.
func Precondition(worker int, id uint64, format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	log.Printf("precondition violated on worker %d, particle %d: %s", worker, id, msg)
	os.Exit(1)
}

// Structural reports a broken structural invariant (duplicate key after
// sort, branch-map inconsistency after refinement) along with a stack trace,
// since these require a code dive rather than a data fix.
func Structural(format string, a ...interface{}) {
	log.Println("structural invariant violated:")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n\n")
	debug.PrintStack()
	os.Exit(1)
}

// Collective reports a collective-communication failure (size mismatch,
// target-vector sum not matching the global particle count) and kills the
// process. There is no recovery path for a failed collective; the job must
// be restarted from the last checkpoint.
func Collective(format string, a ...interface{}) {
	log.Printf("collective operation failed: "+format, a...)
	os.Exit(1)
}

// Recoverable logs a recoverable numerical event (CFL-driven time step
// shrinkage, a smoothing-length iteration that didn't converge within its
// budget) without aborting. The driver continues with the latest candidate
// value.
func Recoverable(format string, a ...interface{}) {
	log.Printf("recoverable: "+format, a...)
}
