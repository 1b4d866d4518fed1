// Package jobs executes tracked units of asynchronous work.
//
// A Service validates a request, records a QUEUED job and hands a closure to
// the Pool. The Pool runs closures on a fixed number of ants workers behind
// a bounded queue. The Engine moves one job through
// QUEUED -> PROCESSING -> COMPLETED or FAILED, running the Runner bound to
// the job type and persisting every stage change as it happens.
package jobs
