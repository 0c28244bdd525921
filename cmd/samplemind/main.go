// Command samplemind analyzes audio samples, maintains the feature and
// vector stores, and reports engine statistics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/samplemind/samplemind-core/pkg/analysis"
	"github.com/samplemind/samplemind-core/pkg/config"
	"github.com/samplemind/samplemind-core/pkg/core"
	"github.com/samplemind/samplemind-core/pkg/smerrors"
	"github.com/samplemind/samplemind-core/pkg/vectorstore"
)

const usageText = `usage: samplemind <command> [flags]

commands:
  analyze <file>    extract features for one file
  batch <dir>       analyze every audio file under a directory
  index <file>      analyze a file and upsert its embedding
  search <file>     find samples similar to a file
  stats             print engine, cache, and store statistics
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[0] {
	case "analyze":
		err = cmdAnalyze(ctx, args[1:])
	case "batch":
		err = cmdBatch(ctx, args[1:])
	case "index":
		err = cmdIndex(ctx, args[1:])
	case "search":
		err = cmdSearch(ctx, args[1:])
	case "stats":
		err = cmdStats(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Print(usageText)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usageText)
		return 2
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "samplemind:", err)
		if smerrors.KindOf(err) == smerrors.KindInvalidInput {
			return 2
		}
		return 1
	}
	return 0
}

func newCore() (*core.Core, error) {
	cfg := config.LoadFromEnv()
	if path := os.Getenv("SM_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return core.New(cfg)
}

func shutdown(c *core.Core) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c.Shutdown(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func levelFlag(fs *flag.FlagSet) *string {
	return fs.String("level", string(analysis.LevelStandard),
		"analysis level: basic, standard, detailed, professional")
}

func cmdAnalyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	level := levelFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return smerrors.New(smerrors.KindInvalidInput, "cli", "analyze requires exactly one file")
	}

	c, err := newCore()
	if err != nil {
		return err
	}
	defer shutdown(c)

	bundle, err := c.Analyze(ctx, fs.Arg(0), analysis.Level(*level))
	if err != nil {
		return err
	}
	return printJSON(bundle)
}

type batchReport struct {
	Total     int64             `json:"total"`
	Processed int64             `json:"processed"`
	Failed    int64             `json:"failed"`
	ElapsedS  float64           `json:"elapsed_s"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func cmdBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	level := levelFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return smerrors.New(smerrors.KindInvalidInput, "cli", "batch requires exactly one directory")
	}

	paths, err := collectAudioFiles(fs.Arg(0))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return smerrors.New(smerrors.KindInvalidInput, "cli", "no audio files found")
	}

	c, err := newCore()
	if err != nil {
		return err
	}
	defer shutdown(c)

	results, batch := c.Engine.AnalyzeBatch(ctx, paths, analysis.Level(*level))
	report := batchReport{Errors: make(map[string]string)}
	for r := range results {
		if r.Err != nil {
			report.Errors[r.Path] = r.Err.Error()
		}
	}

	progress := batch.Progress()
	report.Total = progress.Total
	report.Processed = progress.Processed
	report.Failed = progress.Failed
	report.ElapsedS = progress.Elapsed.Seconds()
	return printJSON(report)
}

func cmdIndex(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	level := levelFlag(fs)
	genre := fs.String("genre", "", "genre tag stored in record metadata")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return smerrors.New(smerrors.KindInvalidInput, "cli", "index requires exactly one file")
	}

	c, err := newCore()
	if err != nil {
		return err
	}
	defer shutdown(c)

	metadata := map[string]any{}
	if *genre != "" {
		metadata["genre"] = *genre
	}
	record, err := c.Index(ctx, fs.Arg(0), analysis.Level(*level), metadata)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"id":           record.ID,
		"content_hash": record.ContentHash,
		"audio_path":   record.AudioPath,
	})
}

func cmdSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	level := levelFlag(fs)
	k := fs.Int("k", 10, "number of neighbours to return")
	genre := fs.String("genre", "", "restrict results to a genre")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return smerrors.New(smerrors.KindInvalidInput, "cli", "search requires exactly one file")
	}

	c, err := newCore()
	if err != nil {
		return err
	}
	defer shutdown(c)

	var filters []vectorstore.MetadataFilter
	if *genre != "" {
		filters = append(filters, vectorstore.MetadataFilter{
			Key: "genre", Op: vectorstore.FilterEquals, Value: *genre,
		})
	}
	results, err := c.Search(ctx, fs.Arg(0), analysis.Level(*level), *k, filters)
	if err != nil {
		return err
	}

	type hit struct {
		AudioPath string  `json:"audio_path"`
		Distance  float64 `json:"distance"`
		ID        string  `json:"id"`
	}
	out := make([]hit, len(results))
	for i, r := range results {
		out[i] = hit{AudioPath: r.Record.AudioPath, Distance: r.Distance, ID: r.Record.ID}
	}
	return printJSON(out)
}

func cmdStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Parse(args)

	c, err := newCore()
	if err != nil {
		return err
	}
	defer shutdown(c)

	out := map[string]any{
		"engine":  c.Engine.Stats(),
		"cache":   c.Cache.Stats(),
		"usage":   c.Tracker.Stats(),
		"warmer":  c.Warmer.Stats(),
		"feature": c.Features.Stats(),
	}
	if c.Vectors != nil {
		if vs, err := c.Vectors.Stats(ctx); err == nil {
			out["vectors"] = vs
		}
	}
	return printJSON(out)
}

func collectAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, smerrors.Wrap(err, smerrors.KindInvalidInput, "cli", "reading directory")
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".wav", ".mp3", ".flac", ".aiff", ".aif", ".ogg", ".m4a":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
