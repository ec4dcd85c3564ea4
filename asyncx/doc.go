// Package asyncx is the queue and task-record layer of reportq.
//
// It wraps asynq to submit deferred method invocations (Message) with a
// priority, a timeout and an optional completion Callback, and persists the
// lifecycle of each orchestration run (TaskRecord) in a relational database.
//
// Quick start:
//  1. Open a *sql.DB and apply the schema with migrations.Up.
//  2. Create a Store with NewSQLStore(db, driverName).
//  3. Create a Client with NewClient(redis, ...) and submit with Enqueue.
//  4. Create a Processor, register handlers with Handle and callbacks with
//     RegisterCallback, then Start it.
package asyncx
