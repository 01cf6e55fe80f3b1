package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"runtime/pprof"

	"github.com/corvidchess/corvid/internal/engine"
	"github.com/corvidchess/corvid/internal/store"
	"github.com/corvidchess/corvid/internal/tablebase"
	"github.com/corvidchess/corvid/internal/uci"
)

// defaultNNUEFile is the weight file name looked for in the standard data
// directory and the current directory when no EvalFile option is set.
const defaultNNUEFile = "corvid.nnue"

var (
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
	hashFlag   = flag.Int("hash", 0, "transposition table size in MB (0 = use stored/default)")
	threads    = flag.Int("threads", 0, "number of search threads (0 = use stored/default)")
	nnueFlag   = flag.String("nnue", "", "path to NNUE weight file (overrides stored EvalFile)")
	bookFlag   = flag.String("book", "", "path to Polyglot opening book (overrides stored BookFile)")
	datadir    = flag.String("datadir", "", "override the persistent store/data directory")
)

func main() {
	flag.Parse()

	profilePath := *cpuprofile
	if profilePath == "" {
		profilePath = os.Getenv("CPUPROFILE")
	}
	if profilePath != "" {
		f, err := os.Create(profilePath)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
		log.Printf("CPU profiling enabled, writing to %s", profilePath)
	}

	opts := store.DefaultEngineOptions()
	var db *store.Store
	dbDir := *datadir
	if dbDir == "" {
		resolved, err := store.GetDatabaseDir()
		if err != nil {
			log.Printf("Warning: could not resolve database directory: %v", err)
		}
		dbDir = resolved
	}
	if dbDir != "" {
		if opened, err := store.Open(dbDir); err != nil {
			log.Printf("Warning: could not open persistent store: %v", err)
		} else {
			db = opened
			defer db.Close()
			if loaded, err := db.LoadOptions(); err == nil {
				opts = loaded
			}
		}
	}

	cfg := engine.Config{
		HashMB:   opts.HashMB,
		BookPath: opts.BookFile,
		UseNNUE:  opts.UseNNUE,
	}
	if *hashFlag > 0 {
		cfg.HashMB = *hashFlag
	}
	if *threads > 0 {
		cfg.Threads = *threads
	}
	if *bookFlag != "" {
		cfg.BookPath = *bookFlag
	}

	explicitNNUE := *nnueFlag
	if explicitNNUE == "" {
		explicitNNUE = opts.EvalFile
	}
	if path, err := resolveNNUEPath(explicitNNUE); err == nil {
		cfg.NNUEPath = path
		cfg.UseNNUE = true
	} else if explicitNNUE != "" {
		log.Printf("Warning: NNUE not loaded: %v (using classical evaluation)", err)
	}

	eng := engine.NewEngineFromConfig(cfg)

	tb := tablebase.NewLichessProber()
	if db != nil {
		eng.SetTablebase(tablebase.NewStoreBackedProber(tb, db))
	} else {
		eng.SetTablebase(tb)
	}
	eng.SetSyzygyProbeDepth(opts.ProbeDepth)

	protocol := uci.New(eng)
	protocol.Run()

	if db != nil {
		if err := db.SaveOptions(opts); err != nil {
			log.Printf("Warning: could not persist engine options: %v", err)
		}
	}
}

// resolveNNUEPath finds a single NNUE weight file. explicitPath, if
// non-empty, is tried first; otherwise the standard data directory and the
// current directory are searched for defaultNNUEFile.
func resolveNNUEPath(explicitPath string) (string, error) {
	candidates := []string{}
	if explicitPath != "" {
		candidates = append(candidates, explicitPath)
	}
	if nnueDir, err := store.GetNNUEDir(); err == nil {
		candidates = append(candidates, filepath.Join(nnueDir, defaultNNUEFile))
	}
	candidates = append(candidates, defaultNNUEFile)

	for _, path := range candidates {
		if fileExists(path) {
			return path, nil
		}
	}

	return "", os.ErrNotExist
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
