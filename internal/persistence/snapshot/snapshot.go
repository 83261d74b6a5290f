package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"cauldron.ai/internal/planner"
	"cauldron.ai/internal/protocol"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
}

// SnapshotV1 holds everything needed to repeat one decision: the parsed turn,
// the session counters and the plan carried over from the turn before.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Brews         int `json:"brews"`
	OpponentBrews int `json:"opponent_brews"`

	// Digests of the catalogs and tuning the decision was made with.
	CatalogDigest string `json:"catalog_digest,omitempty"`
	TuningDigest  string `json:"tuning_digest,omitempty"`

	Turn protocol.TurnSnapshot `json:"turn_snapshot"`
	Prev []planner.Command     `json:"prev,omitempty"`
}

// PlannerTurn rebuilds the planner input.
func (s SnapshotV1) PlannerTurn() planner.Turn {
	return planner.Turn{
		Snapshot:      s.Turn,
		GameTurn:      s.Header.Turn,
		Brews:         s.Brews,
		OpponentBrews: s.OpponentBrews,
	}
}

// PathFor is the file name used for a session turn under dir.
func PathFor(dir, sessionID string, turn int) string {
	return filepath.Join(dir, sessionID, fmt.Sprintf("turn-%03d.snap.zst", turn))
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := enc.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriterSize(enc, 256*1024)

	snap.Header.Version = Version
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return bw.Flush()
}

// ReadHeader returns the plain JSON header without decoding the body.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header is repeated inside the gob body.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d: unsupported", snap.Header.Version)
	}
	return snap, nil
}
