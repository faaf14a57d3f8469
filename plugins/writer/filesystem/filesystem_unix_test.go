//go:build !windows

package filesystem

import (
	"errors"
	"testing"

	"spellcombo/pkg/contract"
)

// 非扁平模式下拒绝越出 output_dir 的目标
func TestMapPathRejectsEscape(t *testing.T) {
	flat := false
	w, err := New(&Options{OutputDir: t.TempDir(), Flat: &flat})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, id := range []string{"/abs", "/tmp/spells.csv", "..", "../spells_v2.csv", "."} {
		if _, err := w.mapPath(contract.ArtifactID(id)); !errors.Is(err, contract.ErrPathInvalid) {
			t.Errorf("mapPath(%q) err=%v, want ErrPathInvalid", id, err)
		}
	}
}
