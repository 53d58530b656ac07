// Command otaextract extracts partition images out of an Android OTA
// payload.bin, bare or ZIP-wrapped, local or remote.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"

	otaextract "github.com/otaxtract/payload-extract"
)

const version = "otaextract-dev"

type config struct {
	input       string
	outDir      string
	images      []string
	threads     int
	list        bool
	metadata    bool
	metadataAll bool
	noParallel  bool
	noVerify    bool
	prefetch    bool
	userAgent   string
	cookies     string
	diff        bool
	oldDir      string
	showVersion bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config{
		outDir:  "output",
		threads: clampThreads(runtime.NumCPU()),
	}

	fs := flag.NewFlagSet("otaextract", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	bindFlags(fs, &cfg)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if cfg.showVersion {
		fmt.Println(version)
		return 0
	}
	if cfg.input == "" {
		if fs.NArg() == 0 {
			otaextract.Logger.Println("[red]missing input path or URL[reset]")
			return 1
		}
		cfg.input = fs.Arg(0)
	}

	if cfg.noParallel {
		cfg.threads = 1
	}
	if cfg.diff && cfg.oldDir == "" {
		otaextract.Logger.Println("[red]--diff requires --old[reset]")
		return 1
	}

	ctx := context.Background()
	payload, err := otaextract.Open(ctx, cfg.input, otaextract.OpenOptions{
		UserAgent: cfg.userAgent,
		Cookie:    cfg.cookies,
		Prefetch:  cfg.prefetch,
	})
	if err != nil {
		otaextract.Logger.Printf("[red]opening %s: %v[reset]", cfg.input, err)
		return exitCodeForOpenErr(err)
	}
	defer payload.Close()

	if cfg.list {
		printPartitionTable(payload, cfg.images)
		return 0
	}

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		otaextract.Logger.Printf("[red]creating output directory: %v[reset]", err)
		return 1
	}

	if cfg.metadata {
		if err := writeMetadataFile(payload, cfg.outDir, cfg.metadataAll); err != nil {
			otaextract.Logger.Printf("[red]writing metadata: %v[reset]", err)
			return 3
		}
	}

	bars := make(map[int]*progressbar.ProgressBar)
	progress := otaextract.NewProgressBus(func(p otaextract.PartitionProgress) {
		bar, ok := bars[p.Index]
		if !ok {
			bar = progressbar.Default(int64(p.TotalOps), p.Name)
			bars[p.Index] = bar
		}
		bar.Set(p.CompletedOps)
	})
	cancel := &otaextract.CancelFlag{}

	oldDir := ""
	if cfg.diff {
		oldDir = cfg.oldDir
	}

	outcomes, runErr := otaextract.Run(payload, otaextract.SchedulerOptions{
		OutDir:   cfg.outDir,
		OldDir:   oldDir,
		NoVerify: cfg.noVerify,
		Threads:  cfg.threads,
		Images:   cfg.images,
		Progress: progress,
		Cancel:   cancel,
	})

	for _, o := range outcomes {
		if o.Err != nil {
			otaextract.Logger.Printf("[red]%s: %v[reset]", o.Partition, o.Err)
		} else {
			otaextract.Logger.Printf("[green]%s: ok[reset]", o.Partition)
		}
	}

	return otaextract.WorstExitCode(runErr, outcomes)
}

func bindFlags(fs *flag.FlagSet, cfg *config) {
	fs.StringVar(&cfg.outDir, "out", cfg.outDir, "output directory")
	fs.StringVar(&cfg.outDir, "o", cfg.outDir, "output directory (shorthand)")

	imagesFn := func(s string) error {
		cfg.images = splitNonEmpty(s)
		return nil
	}
	fs.Func("images", "comma-separated substring filter on partition names", imagesFn)
	fs.Func("i", "comma-separated substring filter (shorthand)", imagesFn)

	threadsFn := func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		cfg.threads = clampThreads(n)
		return nil
	}
	fs.Func("threads", "worker count, clamped to [1,32]", threadsFn)
	fs.Func("t", "worker count (shorthand)", threadsFn)

	fs.BoolVar(&cfg.list, "list", false, "print partition table and exit")
	fs.BoolVar(&cfg.list, "l", false, "print partition table and exit (shorthand)")

	metadataFn := func(s string) error {
		cfg.metadata = true
		cfg.metadataAll = s == "full"
		return nil
	}
	fs.BoolFunc("metadata", "emit JSON metadata into the output dir; pass =full to include operations", metadataFn)
	fs.BoolFunc("m", "emit JSON metadata (shorthand)", metadataFn)

	fs.BoolVar(&cfg.noParallel, "no-parallel", false, "force single-worker extraction")
	fs.BoolVar(&cfg.noParallel, "P", false, "force single-worker extraction (shorthand)")
	fs.BoolVar(&cfg.noVerify, "no-verify", false, "skip SHA-256 verification")
	fs.BoolVar(&cfg.noVerify, "n", false, "skip SHA-256 verification (shorthand)")
	fs.BoolVar(&cfg.prefetch, "prefetch", false, "download the entire remote body before extracting")
	fs.StringVar(&cfg.userAgent, "user-agent", "", "override HTTP User-Agent")
	fs.StringVar(&cfg.userAgent, "U", "", "override HTTP User-Agent (shorthand)")
	fs.StringVar(&cfg.cookies, "cookies", "", "literal Cookie: header value")
	fs.StringVar(&cfg.cookies, "C", "", "literal Cookie: header value (shorthand)")
	fs.BoolVar(&cfg.diff, "diff", false, "enable differential OTA")
	fs.StringVar(&cfg.oldDir, "old", "", "directory of old partition images for --diff")
	fs.BoolVar(&cfg.showVersion, "version", false, "print version and exit")
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func clampThreads(n int) int {
	if n < 1 {
		return 1
	}
	if n > 32 {
		return 32
	}
	return n
}

func printPartitionTable(payload *otaextract.Payload, images []string) {
	for _, pu := range otaextract.SelectPartitions(payload.Manifest, images) {
		size := pu.TargetSize(payload.Manifest.EffectiveBlockSize())
		fmt.Printf("%-24s ops=%-5d size=%d\n", pu.PartitionName, len(pu.Operations), size)
	}
}

func writeMetadataFile(payload *otaextract.Payload, outDir string, full bool) error {
	path := filepath.Join(outDir, "payload_metadata.json")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return otaextract.WriteMetadataJSON(f, payload.Manifest, full)
}

func exitCodeForOpenErr(err error) int {
	switch {
	case otaextract.IsKind(err, otaextract.KindInputNotFound), otaextract.IsKind(err, otaextract.KindInvalidArgument):
		return 1
	case otaextract.IsKind(err, otaextract.KindInvalidMagic),
		otaextract.IsKind(err, otaextract.KindUnsupportedVersion),
		otaextract.IsKind(err, otaextract.KindManifestTooLarge),
		otaextract.IsKind(err, otaextract.KindManifestDecode),
		otaextract.IsKind(err, otaextract.KindNotAZip),
		otaextract.IsKind(err, otaextract.KindPayloadNotInZip):
		return 2
	default:
		return 3
	}
}
