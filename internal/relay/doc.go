// Package relay implements the delayed channel relay pipeline.
//
// A Listener enqueues every new source-channel post into the durable queue,
// scheduled delay ahead of now. A Scheduler polls the queue at a fixed
// interval and hands due entries, in batches, to the Executor, which copies or
// forwards each post to the target channel exactly once and then removes the
// entry whatever the outcome. Retention purges entries that outlived the
// retention window once a day.
package relay
