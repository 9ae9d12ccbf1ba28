// Package exporter mirrors committed feature batches to parquet files.
//
// ParquetSink implements the coordinator's Sink. Every Export call writes one
// file per non-empty entity under its own directory:
//
//	<dir>/ffd/<stamp>.parquet       one row per differenced bar
//	<dir>/emd/<stamp>.parquet       long format, one row per (epoch, mode)
//	<dir>/vpin/<stamp>.parquet      imbalance bars
//	<dir>/premium/<stamp>.parquet   premium index records
//
// Files are written to a temporary name and renamed, so readers never observe
// a partial file. Epochs are stored as UNIX seconds and fdim as its canonical
// decimal key.
package exporter
