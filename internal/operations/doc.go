// Package operations schedules the feature pipelines.
//
// A Coordinator owns every run. Runs are keyed by what they write:
//
//	series:<instrument>:<resolution>:<vpin>   resample, fracdiff, emd
//	vpin:<instrument>:<builder>               imbalance bars
//	premium:<spot>:<derivative>:<resolution>  premium index
//
// The KeyGuard keeps at most one execution per key in flight. Triggers arriving
// while a key runs fold into a single rerun of the latest trigger once the
// current execution returns.
//
// Imbalance bar runs resume from the latest stored bar of their builder, so
// each run appends only bars closing after it.
//
// Series runs walk the Registry's steps in dependency order over an
// OperationState. Each run commits one storage.Batch, so a failed run writes
// nothing.
//
// Triggers come from the pubsub broker (Subscribe) or on demand through Run. The
// JobQueue executes on-demand requests asynchronously.
package operations
