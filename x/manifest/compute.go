// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package manifest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/replicastate/ids"
	"github.com/ava-labs/replicastate/utils/logging"
	"github.com/ava-labs/replicastate/utils/sampler"
)

const (
	DefaultWorkers       = 16
	DefaultValidateReuse = 0.1
)

var (
	ErrInvalidChunkSize = errors.New("chunk size must be a positive multiple of the page size")
	ErrZeroWorkers      = errors.New("manifest workers must be greater than 0")
)

type Config struct {
	// Size of every chunk but the last one of a file. Must be a multiple of
	// PageSize so that dirty pages map to a single chunk.
	ChunkSize uint32
	// Maximum number of chunks hashed at once.
	Workers int
	// Probability that a reused chunk hash is verified against a fresh hash
	// of the chunk.
	ValidateReuse float64
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:     DefaultChunkSize,
		Workers:       DefaultWorkers,
		ValidateReuse: DefaultValidateReuse,
	}
}

func (c Config) Verify() error {
	switch {
	case c.ChunkSize == 0 || c.ChunkSize%PageSize != 0:
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, c.ChunkSize)
	case c.Workers <= 0:
		return ErrZeroWorkers
	default:
		return nil
	}
}

// Delta describes the changes of a checkpoint relative to a checkpoint whose
// manifest is already known.
type Delta struct {
	Base         *Manifest
	BaseHeight   uint64
	TargetHeight uint64
	// DirtyPages lists, for every file whose modifications are tracked, the
	// indices of the pages written since [BaseHeight]. Files that aren't
	// listed are always rehashed.
	DirtyPages map[string][]uint64
}

// Computer computes manifests of checkpoints.
type Computer struct {
	config  Config
	log     logging.Logger
	metrics *metrics
}

func NewComputer(config Config, log logging.Logger, namespace string, reg prometheus.Registerer) (*Computer, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}
	m, err := newMetrics(namespace, reg)
	if err != nil {
		return nil, err
	}
	return &Computer{
		config:  config,
		log:     log,
		metrics: m,
	}, nil
}

func (c *Computer) ChunkSize() uint32 {
	return c.config.ChunkSize
}

// chunkJob is a chunk to be hashed. If [reused] is set, [hash] was copied
// from the base manifest.
type chunkJob struct {
	path   string
	reused bool
	info   ChunkInfo
}

// Compute computes the manifest of the checkpoint in [dir]. If [delta] is
// provided, the hashes of chunks that didn't change since the base manifest
// are reused.
func (c *Computer) Compute(ctx context.Context, dir string, delta *Delta) (*Manifest, error) {
	start := time.Now()
	files, err := listFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	m := &Manifest{
		Version:   CurrentVersion,
		FileTable: make([]FileInfo, len(files)),
	}
	var baseRanges []ChunkRange
	if delta != nil && delta.Base != nil {
		baseRanges = delta.Base.FileRanges()
	}
	var jobs []chunkJob
	for fileIndex, f := range files {
		m.FileTable[fileIndex] = FileInfo{
			RelativePath: f.relativePath,
			SizeBytes:    f.size,
		}
		reusable := reusableChunks(delta, baseRanges, f, c.config.ChunkSize)
		path := filepath.Join(dir, filepath.FromSlash(f.relativePath))
		for offset := uint64(0); offset < f.size; offset += uint64(c.config.ChunkSize) {
			size := uint64(c.config.ChunkSize)
			if remaining := f.size - offset; remaining < size {
				size = remaining
			}
			job := chunkJob{
				path: path,
				info: ChunkInfo{
					FileIndex: uint32(fileIndex),
					SizeBytes: uint32(size),
					Offset:    offset,
				},
			}
			if hash, ok := reusable[offset]; ok {
				job.reused = true
				job.info.Hash = hash
			}
			jobs = append(jobs, job)
		}
	}

	m.ChunkTable = make([]ChunkInfo, len(jobs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.config.Workers)
	for i, job := range jobs {
		i, job := i, job
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			info, err := c.hashChunk(job)
			if err != nil {
				return err
			}
			m.ChunkTable[i] = info
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for fileIndex, r := range m.FileRanges() {
		m.FileTable[fileIndex].Hash = FileHash(m.ChunkTable[r.Start:r.End])
	}

	c.metrics.computeDuration.Observe(time.Since(start).Seconds())
	c.log.Debug("computed manifest",
		zap.String("dir", dir),
		zap.Int("numFiles", len(m.FileTable)),
		zap.Int("numChunks", len(m.ChunkTable)),
		zap.Bool("incremental", delta != nil),
		zap.Duration("duration", time.Since(start)),
	)
	return m, nil
}

func (c *Computer) hashChunk(job chunkJob) (ChunkInfo, error) {
	size := float64(job.info.SizeBytes)
	if job.reused && !sampler.Chance(c.config.ValidateReuse) {
		c.metrics.chunkBytes.WithLabelValues(reusedType).Add(size)
		return job.info, nil
	}

	data, err := readAt(job.path, job.info.Offset, job.info.SizeBytes)
	if err != nil {
		return ChunkInfo{}, fmt.Errorf("failed to read %s at %d: %w", job.path, job.info.Offset, err)
	}
	info := job.info
	info.Hash = ChunkHash(data)
	if !job.reused {
		c.metrics.chunkBytes.WithLabelValues(hashedType).Add(size)
		return info, nil
	}

	c.metrics.chunkBytes.WithLabelValues(hashedAndComparedType).Add(size)
	if info.Hash != job.info.Hash {
		c.metrics.reusedHashErrors.Inc()
		c.log.Error("reused chunk hash doesn't match the chunk contents",
			zap.String("path", job.path),
			zap.Uint64("offset", job.info.Offset),
			zap.Stringer("reusedHash", job.info.Hash),
			zap.Stringer("actualHash", info.Hash),
		)
	}
	return info, nil
}

// reusableChunks returns, by offset, the hashes of the chunks of [f] that
// can be copied from the base manifest of [delta]. [baseRanges] are the file
// ranges of the base manifest.
func reusableChunks(delta *Delta, baseRanges []ChunkRange, f file, chunkSize uint32) map[uint64]ids.ID {
	if delta == nil || delta.Base == nil {
		return nil
	}
	dirtyPages, tracked := delta.DirtyPages[f.relativePath]
	if !tracked {
		return nil
	}
	baseIndex, ok := delta.Base.FileIndex(f.relativePath)
	if !ok || delta.Base.FileTable[baseIndex].SizeBytes != f.size {
		return nil
	}

	dirtyChunks := make(map[uint64]struct{}, len(dirtyPages))
	for _, page := range dirtyPages {
		offset := page * PageSize
		dirtyChunks[offset-offset%uint64(chunkSize)] = struct{}{}
	}

	r := baseRanges[baseIndex]
	reusable := make(map[uint64]ids.ID, r.End-r.Start)
	for _, chunk := range delta.Base.ChunkTable[r.Start:r.End] {
		expectedSize := uint64(chunkSize)
		if remaining := f.size - chunk.Offset; remaining < expectedSize {
			expectedSize = remaining
		}
		if chunk.Offset%uint64(chunkSize) != 0 || uint64(chunk.SizeBytes) != expectedSize {
			// The base was computed with a different chunk size.
			return nil
		}
		if _, dirty := dirtyChunks[chunk.Offset]; dirty {
			continue
		}
		reusable[chunk.Offset] = chunk.Hash
	}
	return reusable
}
