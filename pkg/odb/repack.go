package odb

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/gritvcs/grit/pkg/object"
)

// RepackOptions tunes a repack run. The delta-selection heuristic is a
// size/time tradeoff, never a correctness one; only the window it
// searches is configurable.
type RepackOptions struct {
	// DeltaWindow is how many previously emitted same-type objects are
	// tried as delta bases for each object. Zero means the default of
	// 10; negative disables delta compression.
	DeltaWindow int
}

// deltaMinTarget skips delta attempts for tiny objects where the
// instruction overhead outweighs any saving.
const deltaMinTarget = 64

// RepackSummary reports the outcome of a repack.
type RepackSummary struct {
	Packed       int
	Deltas       int
	LooseRemoved int
	PackFile     string
	IndexFile    string
}

type repackObject struct {
	id      object.ID
	typ     object.Type
	payload []byte
}

// Repack migrates loose objects into a new sealed pack. The pack and
// its index are written to temp files and renamed into place (data
// first, index last, so readers never discover a half-written pack),
// then the superseded loose files are removed best-effort. A failed or
// cancelled run leaves nothing visible.
func (db *DB) Repack(opts RepackOptions) (*RepackSummary, error) {
	window := opts.DeltaWindow
	if window == 0 {
		window = 10
	}

	objs, err := db.collectLoose()
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return &RepackSummary{}, nil
	}
	if len(objs) > int(^uint32(0)) {
		return nil, fmt.Errorf("repack: too many objects: %d", len(objs))
	}

	// Same-type objects adjacent, larger first: bases tend to precede
	// the targets that delta well against them.
	sort.Slice(objs, func(i, j int) bool {
		if objs[i].typ != objs[j].typ {
			return objs[i].typ < objs[j].typ
		}
		if len(objs[i].payload) != len(objs[j].payload) {
			return len(objs[i].payload) > len(objs[j].payload)
		}
		return bytes.Compare(objs[i].id.Raw(), objs[j].id.Raw()) < 0
	})

	if err := os.MkdirAll(db.packDir(), 0o755); err != nil {
		return nil, fmt.Errorf("repack: mkdir pack dir: %w", err)
	}

	packTmp, err := os.CreateTemp(db.packDir(), ".tmp-pack-*.pack")
	if err != nil {
		return nil, fmt.Errorf("repack: create pack temp file: %w", err)
	}
	packTmpPath := packTmp.Name()
	packVisible := false
	defer func() {
		packTmp.Close()
		if !packVisible {
			os.Remove(packTmpPath)
		}
	}()

	pw, err := NewPackWriter(packTmp, db.format, uint32(len(objs)))
	if err != nil {
		return nil, fmt.Errorf("repack: create pack writer: %w", err)
	}

	entries := make([]IndexEntry, 0, len(objs))
	offsets := make(map[object.ID]uint64, len(objs))
	depths := make([]int, len(objs))
	deltas := 0
	for i, obj := range objs {
		baseIdx, delta := pickDeltaBase(objs, depths, i, window)

		var (
			offset uint64
			crc    uint32
		)
		if delta != nil {
			offset, crc, err = pw.WriteOfsDelta(offsets[objs[baseIdx].id], delta)
			depths[i] = depths[baseIdx] + 1
			deltas++
		} else {
			offset, crc, err = pw.WriteFull(obj.typ, obj.payload)
		}
		if err != nil {
			return nil, fmt.Errorf("repack: write entry %s: %w", obj.id, err)
		}
		offsets[obj.id] = offset
		entries = append(entries, IndexEntry{ID: obj.id, Offset: offset, CRC32: crc})
	}

	checksum, err := pw.Finish()
	if err != nil {
		return nil, fmt.Errorf("repack: finalize pack: %w", err)
	}
	if err := packTmp.Sync(); err != nil {
		return nil, fmt.Errorf("repack: sync pack: %w", err)
	}
	if err := packTmp.Close(); err != nil {
		return nil, fmt.Errorf("repack: close pack temp file: %w", err)
	}

	base := "pack-" + hex.EncodeToString(checksum)
	packPath := filepath.Join(db.packDir(), base+".pack")
	idxPath := filepath.Join(db.packDir(), base+".idx")

	// No .idx suffix on the temp name: concurrent readers discover
	// packs by that suffix and must not see a half-written index.
	idxTmp, err := os.CreateTemp(db.packDir(), ".tmp-idx-*")
	if err != nil {
		return nil, fmt.Errorf("repack: create index temp file: %w", err)
	}
	idxTmpPath := idxTmp.Name()
	idxVisible := false
	defer func() {
		idxTmp.Close()
		if !idxVisible {
			os.Remove(idxTmpPath)
		}
	}()

	if _, err := WritePackIndex(idxTmp, db.format, entries, checksum); err != nil {
		return nil, fmt.Errorf("repack: write pack index: %w", err)
	}
	if err := idxTmp.Sync(); err != nil {
		return nil, fmt.Errorf("repack: sync index: %w", err)
	}
	if err := idxTmp.Close(); err != nil {
		return nil, fmt.Errorf("repack: close index temp file: %w", err)
	}

	// Data before index: readers discover packs via the index file.
	if err := os.Rename(packTmpPath, packPath); err != nil {
		return nil, fmt.Errorf("repack: rename pack file: %w", err)
	}
	packVisible = true
	if err := os.Rename(idxTmpPath, idxPath); err != nil {
		os.Remove(packPath)
		packVisible = false
		return nil, fmt.Errorf("repack: rename index file: %w", err)
	}
	idxVisible = true

	if err := db.Refresh(); err != nil {
		return nil, fmt.Errorf("repack: refresh: %w", err)
	}

	// Retire loose copies only now that the pack is durably visible.
	removed := 0
	for _, obj := range objs {
		if err := db.loose.Remove(obj.id); err == nil {
			removed++
		}
	}

	return &RepackSummary{
		Packed:       len(objs),
		Deltas:       deltas,
		LooseRemoved: removed,
		PackFile:     filepath.Base(packPath),
		IndexFile:    filepath.Base(idxPath),
	}, nil
}

// collectLoose reads every loose object not already held by a pack,
// loading payloads in parallel.
func (db *DB) collectLoose() ([]repackObject, error) {
	if err := db.Refresh(); err != nil {
		return nil, err
	}

	var ids []object.ID
	if err := db.loose.Walk(func(id object.ID) error {
		ids = append(ids, id)
		return nil
	}); err != nil {
		return nil, err
	}

	db.mu.RLock()
	packs := make([]*loadedPack, len(db.packs))
	copy(packs, db.packs)
	db.mu.RUnlock()

	candidates := ids[:0]
	for _, id := range ids {
		packed := false
		for _, lp := range packs {
			if lp.pack.Contains(id) {
				packed = true
				break
			}
		}
		if !packed {
			candidates = append(candidates, id)
		}
	}

	objs := make([]repackObject, len(candidates))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, id := range candidates {
		i, id := i, id
		g.Go(func() error {
			t, payload, err := db.loose.GetRaw(id)
			if err != nil {
				return fmt.Errorf("read loose object %s: %w", id, err)
			}
			objs[i] = repackObject{id: id, typ: t, payload: payload}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return objs, nil
}

// pickDeltaBase tries the previous window same-type objects as delta
// bases for objs[i] and returns the index of the best base and the
// delta stream, or (-1, nil) when full storage wins. Bases already at
// the chain depth bound are skipped.
func pickDeltaBase(objs []repackObject, depths []int, i, window int) (int, []byte) {
	if window < 0 {
		return -1, nil
	}
	target := objs[i]
	if len(target.payload) < deltaMinTarget {
		return -1, nil
	}

	bestIdx := -1
	var bestDelta []byte
	limit := len(target.payload) / 2
	for j := i - 1; j >= 0 && j >= i-window; j-- {
		if objs[j].typ != target.typ {
			break
		}
		if depths[j] >= maxDeltaDepth-1 {
			continue
		}
		delta := ComputeDelta(objs[j].payload, target.payload)
		if len(delta) >= limit {
			continue
		}
		if bestDelta == nil || len(delta) < len(bestDelta) {
			bestIdx = j
			bestDelta = delta
			limit = len(delta)
		}
	}
	return bestIdx, bestDelta
}
