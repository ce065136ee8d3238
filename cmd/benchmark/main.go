package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"duodb/pkg/common"
	"duodb/pkg/config"
	"duodb/pkg/core"
	"duodb/pkg/storage"
)

func main() {
	inputFile := flag.String("input", "", "raw little-endian int32 key stream")
	configPath := flag.String("config", "", "config file path")
	dataDir := flag.String("data", "", "override storage path from config")
	baseline := flag.Bool("baseline", false, "also load a SQLite baseline for comparison")
	flag.Parse()

	if *inputFile == "" {
		fmt.Println("Usage: benchmark -input <file> [-config <file>] [-data <dir>] [-baseline]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Bench] Failed to load config: %v", err)
	}
	if *dataDir != "" {
		cfg.Storage.Path = *dataDir
	}

	data, err := readKeys(*inputFile)
	if err != nil {
		log.Fatalf("[Bench] Failed to read input: %v", err)
	}
	fmt.Printf("DuoDB Benchmark (N=%d keys from %s)\n", len(data), *inputFile)
	fmt.Println("---------------------------------------------------")

	dt, err := core.NewDualTree(cfg)
	if err != nil {
		log.Fatalf("[Bench] Failed to open store: %v", err)
	}

	start := time.Now()
	for i, k := range data {
		if err := dt.Insert(k, common.ValueType(i)); err != nil {
			log.Fatalf("[Bench] Insert %d failed: %v", k, err)
		}
	}
	loadTime := time.Since(start)
	fmt.Printf("Data load time for dual tree: %v (%.0f ops/s)\n",
		loadTime, float64(len(data))/loadTime.Seconds())
	fmt.Printf("Sorted tree size:   %d\n", dt.SortedSize())
	fmt.Printf("Unsorted tree size: %d\n", dt.UnsortedSize())
	fmt.Printf("Buffered pairs:     %d\n", dt.BufferedSize())
	fmt.Println("---------------------------------------------------")

	queries := generatePointQueries(data)

	hits := 0
	start = time.Now()
	for _, k := range queries {
		found, err := dt.Query(k)
		if err != nil {
			log.Fatalf("[Bench] Query %d failed: %v", k, err)
		}
		if found {
			hits++
		}
	}
	naiveTime := time.Since(start)
	fmt.Printf("Naive query: %v (%.0f ops/s), found %d out of %d\n",
		naiveTime, float64(len(queries))/naiveTime.Seconds(), hits, len(queries))

	hits = 0
	start = time.Now()
	for _, k := range queries {
		found, err := dt.QueryMRU(k)
		if err != nil {
			log.Fatalf("[Bench] MRU query %d failed: %v", k, err)
		}
		if found {
			hits++
		}
	}
	mruTime := time.Since(start)
	fmt.Printf("MRU query:   %v (%.0f ops/s), found %d out of %d\n",
		mruTime, float64(len(queries))/mruTime.Seconds(), hits, len(queries))
	fmt.Println("---------------------------------------------------")

	if *baseline {
		runBaseline(cfg, data, queries)
	}

	if err := dt.Close(); err != nil {
		log.Fatalf("[Bench] Close failed: %v", err)
	}
}

// readKeys loads a flat little-endian int32 stream.
func readKeys(path string) ([]common.KeyType, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keys := make([]common.KeyType, 0, len(raw)/4)
	for off := 0; off+4 <= len(raw); off += 4 {
		keys = append(keys, common.KeyType(binary.LittleEndian.Uint32(raw[off:])))
	}
	return keys, nil
}

// generatePointQueries shuffles the data keys together with ~10% keys drawn
// from beyond the loaded range.
func generatePointQueries(data []common.KeyType) []common.KeyType {
	queries := make([]common.KeyType, len(data))
	copy(queries, data)

	n := len(data)
	missing := n / 10
	for i := 0; i < missing; i++ {
		queries = append(queries, common.KeyType(n+rand.Intn(4*n/5+1)))
	}

	rand.Shuffle(len(queries), func(i, j int) {
		queries[i], queries[j] = queries[j], queries[i]
	})
	return queries
}

// runBaseline loads the same stream into SQLite and runs the same query mix.
func runBaseline(cfg *config.Config, data, queries []common.KeyType) {
	dbPath := filepath.Join(cfg.Storage.Path, "baseline.db")
	backend, err := storage.NewSQLiteBackend(dbPath)
	if err != nil {
		log.Fatalf("[Bench] Failed to open baseline: %v", err)
	}
	defer backend.Close()

	const batchSize = 500
	start := time.Now()
	batch := make([]common.Pair, 0, batchSize)
	for i, k := range data {
		batch = append(batch, common.Pair{Key: k, Value: common.ValueType(i)})
		if len(batch) == batchSize {
			if err := backend.BatchWrite(batch); err != nil {
				log.Fatalf("[Bench] Baseline write failed: %v", err)
			}
			batch = batch[:0]
		}
	}
	if err := backend.BatchWrite(batch); err != nil {
		log.Fatalf("[Bench] Baseline write failed: %v", err)
	}
	loadTime := time.Since(start)
	fmt.Printf("Data load time for sqlite baseline: %v (%.0f ops/s)\n",
		loadTime, float64(len(data))/loadTime.Seconds())

	hits := 0
	start = time.Now()
	for _, k := range queries {
		if _, found := backend.Read(k); found {
			hits++
		}
	}
	queryTime := time.Since(start)
	fmt.Printf("SQLite query: %v (%.0f ops/s), found %d out of %d\n",
		queryTime, float64(len(queries))/queryTime.Seconds(), hits, len(queries))
	fmt.Println("---------------------------------------------------")
}
