package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"allele/internal/model"
)

// ArchiveFormat identifies the stream layout: a zstd frame wrapping one
// deterministic CBOR-encoded Archive.
const ArchiveFormat = "allele-archive/v1"

// Archive is the portable export of one run.
type Archive struct {
	model.VersionedRecord
	Format  string                `cbor:"format"`
	Run     model.RunRecord       `cbor:"run"`
	Lineage []model.LineageRecord `cbor:"lineage,omitempty"`
}

var ErrInvalidArchive = errors.New("invalid archive")

// WriteArchive encodes archive to w.
func WriteArchive(w io.Writer, archive Archive) error {
	archive.VersionedRecord = model.CurrentVersion()
	archive.Format = ArchiveFormat
	archive.Run.CreatedAt = normalizeTime(archive.Run.CreatedAt)
	payload, err := CBOR.Marshal(archive)
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if _, err := zw.Write(payload); err != nil {
		_ = zw.Close()
		return fmt.Errorf("compress archive: %w", err)
	}
	return zw.Close()
}

// ReadArchive decodes and validates an archive written by WriteArchive.
func ReadArchive(r io.Reader) (Archive, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return Archive{}, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	defer zr.Close()

	payload, err := io.ReadAll(zr)
	if err != nil {
		return Archive{}, fmt.Errorf("%w: decompress: %w", ErrInvalidArchive, err)
	}
	var archive Archive
	if err := CBOR.Unmarshal(payload, &archive); err != nil {
		return Archive{}, fmt.Errorf("%w: decode: %w", ErrInvalidArchive, err)
	}
	if archive.Format != ArchiveFormat {
		return Archive{}, fmt.Errorf("%w: format %q", ErrInvalidArchive, archive.Format)
	}
	if err := checkVersion(archive.VersionedRecord); err != nil {
		return Archive{}, err
	}
	if err := checkRun(archive.Run); err != nil {
		return Archive{}, err
	}
	if err := checkLineage(archive.Lineage); err != nil {
		return Archive{}, err
	}
	return archive, nil
}

// ExportRun reads a run and its lineage from store and writes an archive.
func ExportRun(ctx context.Context, store Store, runID string, w io.Writer) error {
	run, ok, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	lineage, _, err := store.GetLineage(ctx, runID)
	if err != nil {
		return err
	}
	return WriteArchive(w, Archive{Run: run, Lineage: lineage})
}

// ImportRun reads an archive and saves its run, final population, best
// genome and lineage into store.
func ImportRun(ctx context.Context, store Store, r io.Reader) (model.RunRecord, error) {
	archive, err := ReadArchive(r)
	if err != nil {
		return model.RunRecord{}, err
	}
	run := archive.Run
	if err := store.SaveRun(ctx, run); err != nil {
		return model.RunRecord{}, err
	}
	if err := store.SavePopulation(ctx, run.FinalPopulation); err != nil {
		return model.RunRecord{}, err
	}
	if run.Best.ID != "" {
		if err := store.SaveGenome(ctx, run.RunID, run.Best); err != nil {
			return model.RunRecord{}, err
		}
	}
	if len(archive.Lineage) > 0 {
		if err := store.SaveLineage(ctx, run.RunID, archive.Lineage); err != nil {
			return model.RunRecord{}, err
		}
	}
	return run, nil
}
