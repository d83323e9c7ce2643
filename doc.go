// Package loam provides a small computation kernel: immutable binary
// trees ("nouns") with refcounted frames, a combinator reducer over
// them, pluggable native acceleration, and snapshot-plus-log
// durability.
//
// The core code is in packages 'noun', 'nock', 'jet', 'checkpoint',
// and 'pier'; some command-line tools are in `cmd`.
package loam
