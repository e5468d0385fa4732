package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"allele/internal/genotype"
	"allele/internal/model"
)

var (
	ErrVersionMismatch = errors.New("record version mismatch")
	ErrInvalidRecord   = errors.New("invalid record")
	ErrUnknownCodec    = errors.New("unknown codec")
)

// Codec serializes persisted records.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// cborCodec uses core deterministic encoding: equal records always give equal
// bytes.
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func (cborCodec) Name() string { return "cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = newCBORCodec()
)

func newCBORCodec() cborCodec {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	enc, err := encOptions.EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

// CodecByName resolves "json" or "cbor". An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}
}

func EncodeGenome(g model.Genome) ([]byte, error) {
	return JSON.Marshal(g)
}

func DecodeGenome(data []byte) (model.Genome, error) {
	return DecodeGenomeWith(JSON, data)
}

func DecodeGenomeWith(codec Codec, data []byte) (model.Genome, error) {
	var genome model.Genome
	if err := codec.Unmarshal(data, &genome); err != nil {
		return model.Genome{}, err
	}
	if err := checkVersion(genome.VersionedRecord); err != nil {
		return model.Genome{}, err
	}
	if err := genotype.ValidateGenome(genome); err != nil {
		return model.Genome{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return genome, nil
}

func EncodePopulation(p model.Population) ([]byte, error) {
	return JSON.Marshal(p)
}

func DecodePopulation(data []byte) (model.Population, error) {
	return DecodePopulationWith(JSON, data)
}

func DecodePopulationWith(codec Codec, data []byte) (model.Population, error) {
	var population model.Population
	if err := codec.Unmarshal(data, &population); err != nil {
		return model.Population{}, err
	}
	if err := checkPopulation(population); err != nil {
		return model.Population{}, err
	}
	return population, nil
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return JSON.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	return DecodeRunWith(JSON, data)
}

func DecodeRunWith(codec Codec, data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := codec.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkRun(run); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeLineage(records []model.LineageRecord) ([]byte, error) {
	return JSON.Marshal(records)
}

func DecodeLineage(data []byte) ([]model.LineageRecord, error) {
	return DecodeLineageWith(JSON, data)
}

func DecodeLineageWith(codec Codec, data []byte) ([]model.LineageRecord, error) {
	var records []model.LineageRecord
	if err := codec.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	if err := checkLineage(records); err != nil {
		return nil, err
	}
	return records, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != model.CurrentSchemaVersion || v.CodecVersion != model.CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}

func checkPopulation(p model.Population) error {
	if err := checkVersion(p.VersionedRecord); err != nil {
		return err
	}
	for _, g := range p.Genomes {
		if err := checkVersion(g.VersionedRecord); err != nil {
			return fmt.Errorf("genome %s: %w", g.ID, err)
		}
	}
	if err := genotype.ValidatePopulation(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return nil
}

func checkRun(run model.RunRecord) error {
	if err := checkVersion(run.VersionedRecord); err != nil {
		return err
	}
	if run.RunID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidRecord)
	}
	if err := checkPopulation(run.FinalPopulation); err != nil {
		return fmt.Errorf("run %s final population: %w", run.RunID, err)
	}
	if run.Best.ID != "" {
		if err := genotype.ValidateGenome(run.Best); err != nil {
			return fmt.Errorf("%w: run %s best genome: %w", ErrInvalidRecord, run.RunID, err)
		}
	}
	return nil
}

func checkLineage(records []model.LineageRecord) error {
	for _, record := range records {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return err
		}
	}
	return nil
}

// normalizeTime drops the monotonic clock reading and pins UTC so stored and
// reloaded run records compare equal.
func normalizeTime(t time.Time) time.Time {
	return t.Round(0).UTC()
}
