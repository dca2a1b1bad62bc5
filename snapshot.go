package rii

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/xDarkicex/rii/internal/coarse"
	"github.com/xDarkicex/rii/internal/store"
)

// Binary snapshot constants
const (
	// Magic number for snapshot streams: "RIIPQIDX"
	snapshotMagic = "RIIPQIDX"

	// Current snapshot format version
	snapshotVersion = uint32(1)

	// Header sentinel for an unset planner threshold
	thresholdUnset = float64(-1)
)

// snapshotHeader is the fixed-size little-endian header of a snapshot
// stream. The codec descriptor fields (M, Ks, D, CodeWidth) must match the
// engine's codec on restore.
type snapshotHeader struct {
	Magic       [8]byte
	Version     uint32
	M           uint32
	Ks          uint32
	D           uint32
	N           uint64
	NList       uint32
	CodeWidth   uint32  // bytes per code entry: 1 or 2
	Threshold   float64 // planner threshold, thresholdUnset if uncalibrated
	ChecksumCRC uint32  // CRC32 (IEEE) of all sections after the header
	Reserved    [20]byte
}

// Snapshot writes the engine's full state to w: header, codes row-major,
// coarse centers row-major, then each posting list as a length-prefixed
// run of 64-bit identifiers. The stream round-trips byte-equivalent state
// through Restore.
func (e *Engine) Snapshot(w io.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var body bytes.Buffer
	body.Write(e.codes.RawBytes())
	body.Write(e.centers.RawBytes())
	for c := 0; c < e.postings.NList(); c++ {
		list := e.postings.List(c)
		if err := binary.Write(&body, binary.LittleEndian, uint64(len(list))); err != nil {
			return err
		}
		if err := binary.Write(&body, binary.LittleEndian, list); err != nil {
			return err
		}
	}

	hdr := snapshotHeader{
		Version:     snapshotVersion,
		M:           uint32(e.codec.M()),
		Ks:          uint32(e.codec.Ks()),
		D:           uint32(e.codec.D()),
		N:           uint64(e.codes.Rows()),
		NList:       uint32(e.centers.Rows()),
		CodeWidth:   uint32(e.codes.Width()),
		Threshold:   thresholdUnset,
		ChecksumCRC: crc32.ChecksumIEEE(body.Bytes()),
	}
	copy(hdr.Magic[:], snapshotMagic)
	e.thresholdMu.Lock()
	if e.thresholdSet {
		hdr.Threshold = e.threshold
	}
	e.thresholdMu.Unlock()

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

// Restore replaces the engine's state with a snapshot previously written
// by Snapshot. The stream's codec descriptor must match the engine's
// codec. On error the engine is left unchanged.
func (e *Engine) Restore(r io.Reader) error {
	var hdr snapshotHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("%w: short header: %v", ErrCorruptSnapshot, err)
	}
	if string(hdr.Magic[:]) != snapshotMagic {
		return fmt.Errorf("%w: bad magic %q", ErrCorruptSnapshot, hdr.Magic[:])
	}
	if hdr.Version != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, hdr.Version)
	}
	if int(hdr.M) != e.codec.M() || int(hdr.Ks) != e.codec.Ks() || int(hdr.D) != e.codec.D() {
		return fmt.Errorf("%w: codec descriptor M=%d Ks=%d D=%d does not match engine codec",
			ErrCorruptSnapshot, hdr.M, hdr.Ks, hdr.D)
	}
	wantWidth := 1
	if hdr.Ks > 256 {
		wantWidth = 2
	}
	if int(hdr.CodeWidth) != wantWidth {
		return fmt.Errorf("%w: code width %d, want %d", ErrCorruptSnapshot, hdr.CodeWidth, wantWidth)
	}

	crc := crc32.NewIEEE()
	body := io.TeeReader(r, crc)

	m := e.codec.M()
	codes := store.NewMatrix(m, e.codec.Ks())
	buf := make([]byte, int(hdr.N)*m*wantWidth)
	if _, err := io.ReadFull(body, buf); err != nil {
		return fmt.Errorf("%w: truncated code section: %v", ErrCorruptSnapshot, err)
	}
	if err := codes.LoadRaw(int(hdr.N), buf); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	centers := store.NewMatrix(m, e.codec.Ks())
	buf = make([]byte, int(hdr.NList)*m*wantWidth)
	if _, err := io.ReadFull(body, buf); err != nil {
		return fmt.Errorf("%w: truncated coarse center section: %v", ErrCorruptSnapshot, err)
	}
	if err := centers.LoadRaw(int(hdr.NList), buf); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	postings := store.NewPostingLists(int(hdr.NList))
	total := uint64(0)
	assignments := make([]int, hdr.N)
	seen := make([]bool, hdr.N)
	for c := 0; c < int(hdr.NList); c++ {
		var count uint64
		if err := binary.Read(body, binary.LittleEndian, &count); err != nil {
			return fmt.Errorf("%w: truncated posting list %d: %v", ErrCorruptSnapshot, c, err)
		}
		total += count
		if total > hdr.N {
			return fmt.Errorf("%w: posting lists hold %d ids, index has %d items", ErrCorruptSnapshot, total, hdr.N)
		}
		list := make([]int64, count)
		if err := binary.Read(body, binary.LittleEndian, list); err != nil {
			return fmt.Errorf("%w: truncated posting list %d: %v", ErrCorruptSnapshot, c, err)
		}
		for _, id := range list {
			if id < 0 || uint64(id) >= hdr.N {
				return fmt.Errorf("%w: posting list id %d out of range", ErrCorruptSnapshot, id)
			}
			if seen[id] {
				return fmt.Errorf("%w: id %d appears in more than one posting list", ErrCorruptSnapshot, id)
			}
			seen[id] = true
			assignments[id] = c
		}
	}
	if hdr.NList > 0 && total != hdr.N {
		return fmt.Errorf("%w: posting lists hold %d ids, index has %d items", ErrCorruptSnapshot, total, hdr.N)
	}
	postings.Rebuild(int(hdr.NList), assignments[:total])
	if crc.Sum32() != hdr.ChecksumCRC {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = codes
	e.centers = centers
	e.postings = postings
	e.sym = nil
	if hdr.NList > 0 {
		e.sym = coarse.NewSymmetricTable(e.codec.Codewords())
	}
	e.thresholdMu.Lock()
	if hdr.Threshold == thresholdUnset {
		e.threshold, e.thresholdSet = 0, false
	} else {
		e.threshold, e.thresholdSet = hdr.Threshold, true
	}
	e.thresholdMu.Unlock()
	e.log.Debug().Uint64("n", hdr.N).Uint32("nlist", hdr.NList).Msg("restore")
	return nil
}
