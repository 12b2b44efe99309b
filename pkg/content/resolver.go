package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Progress weighting for the two resolution phases.
const (
	resolveNamesShare = 0.3
	loadShare         = 0.7
)

// ReferenceResolver turns a project's declared reference items into a full
// replacement list of AssemblyReferences. Project references map directly;
// file references are loaded only when the file exists on disk. Individual
// load failures are skipped so one broken reference never aborts the batch.
type ReferenceResolver struct {
	Loader AssemblyLoader
}

// Resolve resolves items into references. Cancellation is checked before
// each assembly load; progress is apportioned 30% to the name-resolution
// phase and 70% linearly across the loads.
func (r *ReferenceResolver) Resolve(ctx context.Context, items []ProjectItem, progress *Progress) ([]AssemblyReference, error) {
	type candidate struct {
		item ProjectItem
	}

	// Phase 1: resolve names to loadable candidates.
	var candidates []candidate
	refs := make([]AssemblyReference, 0, len(items))
	for _, it := range items {
		switch it.Kind {
		case ItemProjectReference:
			refs = append(refs, AssemblyReference{
				Name:      it.Name,
				ProjectID: it.ProjectID,
			})
		case ItemAssemblyReference:
			if _, err := os.Stat(it.Path); err != nil {
				log.Debug().
					Str("path", it.Path).
					Err(err).
					Msg("Skipping unresolvable assembly reference")
				continue
			}
			candidates = append(candidates, candidate{item: it})
		}
	}
	progress.Add(resolveNamesShare)

	// Phase 2: load each assembly.
	perAssembly := 0.0
	if len(candidates) > 0 {
		perAssembly = loadShare / float64(len(candidates))
	} else {
		progress.Add(loadShare)
	}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ref, err := r.Loader.Load(ctx, c.item.Path)
		if err != nil {
			log.Warn().
				Str("path", c.item.Path).
				Err(err).
				Msg("Failed to load assembly, skipping")
			progress.Add(perAssembly)
			continue
		}
		refs = append(refs, ref)
		progress.Add(perAssembly)
	}
	return refs, nil
}

// DiskAssemblyLoader loads assembly references straight from the
// filesystem: the reference name is derived from the file name and the
// modification time is captured for staleness checks.
type DiskAssemblyLoader struct{}

// Load implements AssemblyLoader.
func (DiskAssemblyLoader) Load(_ context.Context, path string) (AssemblyReference, error) {
	info, err := os.Stat(path)
	if err != nil {
		return AssemblyReference{}, fmt.Errorf("stat assembly %s: %w", path, err)
	}
	if info.IsDir() {
		return AssemblyReference{}, fmt.Errorf("assembly path %s is a directory", path)
	}
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return AssemblyReference{
		Name:    name,
		Path:    path,
		ModTime: info.ModTime(),
	}, nil
}
