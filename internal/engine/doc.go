// Package engine defines the core types shared across the capture
// subsystems: the canonical field model, the page/frame abstraction over
// the browser automation layer, job metadata, and the error taxonomy.
//
// The engine operates on one live page at a time. Subpackages implement
// the individual stages (classify, autofill, consent, advance, download,
// fallback); this package carries only the vocabulary they share.
package engine
