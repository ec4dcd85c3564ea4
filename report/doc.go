// Package report orchestrates report generation runs.
//
// A Dispatcher records a task, then either submits the work to the queue or
// runs it inline, depending on the Policy read at call time. An Executor
// performs the work, advancing the task record at fixed checkpoints. Every
// run goes through the executor's error boundary, so a failing run always
// ends Finished with State=Error, gets an audit failure event, and returns
// the original error to the caller or the queue.
package report
