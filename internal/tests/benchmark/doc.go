// Package benchmark provides performance benchmarks for keepstore.
//
// Run benchmarks with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/...
//
// Compare tiers:
//
//	go test -bench='BenchmarkRecordAdd/(memory|durable)' -benchmem ./internal/tests/benchmark/...
//
// Compare results:
//
//	benchstat old.txt new.txt
package benchmark
