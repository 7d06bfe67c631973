package materialize

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"whetstone/adapters/optim"
)

func batch(ids ...string) []optim.CandidatePatch {
	var patches []optim.CandidatePatch
	for _, id := range ids {
		patches = append(patches, optim.CandidatePatch{
			VariantID: id,
			Code:      "// " + id + "\nint main() { return 0; }\n",
		})
	}
	return patches
}

func TestWriteBatch_AllSucceed(t *testing.T) {
	root := t.TempDir()
	patches := batch("hoist-invariants", "unroll-inner-loop", "vectorize-hot-loop")

	res := WriteBatch(root, "hot.cpp", patches)

	if len(res.Items) != len(patches) {
		t.Fatalf("got %d items for %d patches", len(res.Items), len(patches))
	}
	if res.FailedCount() != 0 {
		t.Fatalf("unexpected failures: %+v", res.Items)
	}
	for i, it := range res.Items {
		if it.VariantID != patches[i].VariantID {
			t.Errorf("item %d: VariantID = %q, want %q", i, it.VariantID, patches[i].VariantID)
		}
		data, err := os.ReadFile(it.Path)
		if err != nil {
			t.Fatalf("read %s: %v", it.Path, err)
		}
		if string(data) != patches[i].Code {
			t.Errorf("item %d: content mismatch", i)
		}
	}
}

func TestWriteBatch_SiblingIsolation(t *testing.T) {
	// Block the second variant's directory with a plain file so its MkdirAll
	// fails; the first and third must still land.
	root := t.TempDir()
	patches := batch("v1", "v2", "v3")

	if err := os.MkdirAll(filepath.Join(root, "variants"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "variants", "v2"), []byte("in the way"), 0644); err != nil {
		t.Fatal(err)
	}

	res := WriteBatch(root, "hot.cpp", patches)

	if len(res.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(res.Items))
	}
	if res.FailedCount() != 1 {
		t.Fatalf("FailedCount = %d, want 1: %+v", res.FailedCount(), res.Items)
	}
	failed := res.Items[1]
	if failed.Status != StatusFailed || failed.Error == "" {
		t.Errorf("item 1 = %+v, want failed with error text", failed)
	}
	if failed.Path != "" {
		t.Errorf("failed item carries path %q", failed.Path)
	}
	for _, i := range []int{0, 2} {
		it := res.Items[i]
		if !it.OK() {
			t.Errorf("item %d = %+v, want success", i, it)
		}
		if _, err := os.Stat(it.Path); err != nil {
			t.Errorf("item %d path: %v", i, err)
		}
	}
	if got := len(res.Successful()); got != 2 {
		t.Errorf("Successful() = %d items, want 2", got)
	}
}

func TestWriteBatch_Idempotent(t *testing.T) {
	root := t.TempDir()
	patches := batch("reserve-capacity")

	first := WriteBatch(root, "vec.cpp", patches)
	patches[0].Code = "// updated\nint main() { return 1; }\n"
	second := WriteBatch(root, "vec.cpp", patches)

	if first.Items[0].Path != second.Items[0].Path {
		t.Fatalf("path changed across runs: %q vs %q", first.Items[0].Path, second.Items[0].Path)
	}
	data, err := os.ReadFile(second.Items[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != patches[0].Code {
		t.Errorf("second run did not overwrite: %q", data)
	}

	entries, err := os.ReadDir(filepath.Join(root, "variants"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d variant dirs, want 1", len(entries))
	}
}

func TestWriteBatch_SanitizesVariantID(t *testing.T) {
	root := t.TempDir()
	res := WriteBatch(root, "hot.cpp", batch("split/hot spot"))

	if res.FailedCount() != 0 {
		t.Fatalf("unexpected failure: %+v", res.Items)
	}
	path := res.Items[0].Path
	if !strings.Contains(path, "split_hot_spot") {
		t.Errorf("path %q not sanitized", path)
	}
	if strings.Count(path, string(filepath.Separator)) != strings.Count(filepath.Join(root, "variants", "x", "hot.cpp"), string(filepath.Separator)) {
		t.Errorf("variant id escaped its directory: %q", path)
	}
}

func TestWriteBatch_EmptyBatch(t *testing.T) {
	res := WriteBatch(t.TempDir(), "hot.cpp", nil)
	if len(res.Items) != 0 || res.FailedCount() != 0 {
		t.Errorf("empty batch produced %+v", res)
	}
}
