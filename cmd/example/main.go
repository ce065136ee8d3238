package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"duodb/pkg/common"
	"duodb/pkg/config"
	"duodb/pkg/core"
)

func main() {
	dir, err := os.MkdirTemp("", "duodb_example")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := config.Default()
	cfg.Storage.Path = dir
	cfg.Router.HeapSize = 0 // make every insert visible immediately

	dt, err := core.NewDualTree(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer dt.Close()

	fmt.Println("Loading a mostly sorted stream with a few stragglers...")
	start := time.Now()
	keys := []common.KeyType{10, 20, 30, 40, 50, 35, 60, 70, 5, 80}
	for i, k := range keys {
		if err := dt.Insert(k, common.ValueType(i)); err != nil {
			log.Fatalf("Insert failed: %v", err)
		}
	}
	fmt.Printf("Inserted %d pairs in %v\n", len(keys), time.Since(start))
	fmt.Printf("Sorted tree: %d keys, unsorted tree: %d keys\n",
		dt.SortedSize(), dt.UnsortedSize())

	for _, k := range []common.KeyType{35, 5, 99} {
		start = time.Now()
		found, err := dt.Query(k)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		fmt.Printf("Query %d -> %v (in %v)\n", k, found, time.Since(start))
	}

	pairs, err := dt.Scan(20, 60)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}
	fmt.Printf("Scan [20,60] returned %d pairs\n", len(pairs))
	for _, p := range pairs {
		fmt.Printf("  %v\n", p)
	}
}
