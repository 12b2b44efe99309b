package content

import (
	"context"
	"os"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ParseCounts summarizes one parse fan-out.
type ParseCounts struct {
	FromCache          int
	Parsed             int
	ParsedSerializable int
}

// Total returns the number of files that produced a result.
func (c ParseCounts) Total() int {
	return c.FromCache + c.Parsed
}

// ParseResultFunc receives one completed file. old is the previous snapshot
// being replaced (nil on first sight), fromCache marks results reused from
// the persisted cache rather than parsed fresh.
type ParseResultFunc func(old, new *UnresolvedFile, fromCache bool)

// ParallelParser drives the bounded-concurrency parse of a project's source
// files. Per file it prefers, in order: live in-editor content, a cache hit
// whose stored timestamp exactly equals the on-disk timestamp, a fresh parse
// of on-disk content. Individual file errors are skipped; cancellation is
// checked per file.
type ParallelParser struct {
	Parser FileParser
	Docs   OpenDocumentProvider

	// Workers bounds the fan-out; zero means GOMAXPROCS.
	Workers int
}

// ParseAll parses files, consulting cached for timestamp-matched reuse.
// Results are delivered through notify, which must be safe for concurrent
// calls. Progress advances 1/N per completed file.
func (pp *ParallelParser) ParseAll(ctx context.Context, files []string, cached *ProjectContent, notify ParseResultFunc, progress *Progress) (ParseCounts, error) {
	workers := pp.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var (
		mu     sync.Mutex
		counts ParseCounts
	)
	step := 0.0
	if len(files) > 0 {
		step = 1.0 / float64(len(files))
	} else {
		progress.Add(1)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range files {
		path := path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			defer progress.Add(step)

			if pp.Docs != nil {
				if src, ok := pp.Docs.OpenContent(path); ok {
					f, err := pp.Parser.Parse(ctx, path, src)
					if err != nil {
						log.Warn().Str("path", path).Err(err).Msg("Failed to parse open document")
						return nil
					}
					notify(nil, f, false)
					mu.Lock()
					counts.Parsed++
					mu.Unlock()
					return nil
				}
			}

			info, err := os.Stat(path)
			if err != nil {
				log.Debug().Str("path", path).Err(err).Msg("Skipping unreadable file")
				return nil
			}

			if cached != nil {
				if hit := cached.File(path); hit != nil && hit.LastWriteTime.Equal(info.ModTime()) {
					notify(nil, hit, true)
					mu.Lock()
					counts.FromCache++
					mu.Unlock()
					return nil
				}
			}

			f, err := pp.Parser.Parse(ctx, path, nil)
			if err != nil {
				log.Warn().Str("path", path).Err(err).Msg("Failed to parse file, skipping")
				return nil
			}
			notify(nil, f, false)
			mu.Lock()
			counts.Parsed++
			if f.Serializable() {
				counts.ParsedSerializable++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counts, err
	}
	return counts, nil
}
