/*
Package worker runs the policy workers as independent interval loops
inside one process.

Every API replica runs the identical set of loops; before a tick's
handler executes, the scheduler must win (or already hold) the worker's
leader lock, so exactly one replica enforces each policy at a time.
Losing or missing the lock is not an error; the tick is simply
skipped and the next interval retries.

Failure isolation: a handler error marks the tick failed and the loop
continues; a panic is recovered at the tick boundary. On shutdown the
scheduler stops scheduling new ticks and drains in-flight ones rather
than cancelling them mid-write.

Workers at second-scale cadence run on a time.Ticker; the hourly
retention jobs are driven by a shared cron runner.
*/
package worker
