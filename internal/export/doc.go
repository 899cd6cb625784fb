// Package export implements the asynchronous data-export pipeline: accepting
// requests, rendering them on a job queue, serving each artifact once through
// an emailed link, and reaping what expires unclaimed.
//
// Request status only changes through store.ExportStore.Transition, a
// compare-and-set on the current status, so any number of workers and
// reaper instances can run without in-process locks.
package export
