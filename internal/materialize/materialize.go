// Package materialize writes candidate patch batches to disk, one isolated
// directory per variant. Failures are recorded per item and never propagate:
// a bad write costs one variant, not the batch.
package materialize

import (
	"os"
	"path/filepath"

	"whetstone/adapters/optim"
)

// Status of one materialized variant.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Item is the outcome for one patch. Path is set only on success, Error only
// on failure.
type Item struct {
	VariantID string `json:"variant_id"`
	Path      string `json:"path,omitempty"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
}

// OK reports whether the variant landed on disk.
func (i Item) OK() bool { return i.Status == StatusSuccess }

// Result holds one Item per input patch, in input order.
type Result struct {
	Items []Item `json:"items"`
}

// Successful returns the items whose files exist and can be compiled.
func (r Result) Successful() []Item {
	var ok []Item
	for _, it := range r.Items {
		if it.OK() {
			ok = append(ok, it)
		}
	}
	return ok
}

// FailedCount counts items that did not materialize.
func (r Result) FailedCount() int {
	n := 0
	for _, it := range r.Items {
		if !it.OK() {
			n++
		}
	}
	return n
}

// WriteBatch materializes every patch under outputRoot. Each variant gets its
// own directory keyed by its filesystem-safe ID and receives the target
// filename with the patch's full source text. Directory creation is
// idempotent and existing files are overwritten, so re-running a batch
// converges on the same tree. I/O errors are captured in the item and the
// remaining siblings still proceed.
func WriteBatch(outputRoot, filename string, patches []optim.CandidatePatch) Result {
	result := Result{Items: make([]Item, 0, len(patches))}
	for _, patch := range patches {
		result.Items = append(result.Items, writeOne(outputRoot, filename, patch))
	}
	return result
}

func writeOne(outputRoot, filename string, patch optim.CandidatePatch) Item {
	item := Item{VariantID: patch.VariantID}

	dir := optim.VariantDir(outputRoot, patch.VariantID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		item.Status = StatusFailed
		item.Error = err.Error()
		return item
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(patch.Code), 0644); err != nil {
		item.Status = StatusFailed
		item.Error = err.Error()
		return item
	}

	item.Status = StatusSuccess
	item.Path = path
	return item
}
