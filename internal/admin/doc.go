// Package admin exposes a running mirror session over HTTP: health and
// metrics, tree inspection, element lookup, event dispatch, direct batch
// submission and resync.
package admin
