// Package kernel boots and executes function spans.
//
// A boot request walks a fixed state machine: manifest gate, function
// resolution, scope authorization, signature verification, boot event,
// execution. Every gate that fails short-circuits to Denied without
// touching later state, and the boot event is durably written before
// any code runs so a crash mid-execution still leaves a trace.
//
// Function code never runs as stored text. A function span names a
// runtime via metadata, and only runtimes registered in-process can be
// invoked, each receiving a narrow capability set instead of ambient
// access.
package kernel
