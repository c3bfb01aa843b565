package archive

import (
	"io"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/spherical/pdfcbz/internal/domain"
)

// BenchmarkLevel is the DEFLATE level compared against stored packing.
const BenchmarkLevel = 6

// BenchmarkResult compares stored packing with DEFLATE packing of the same
// entries.
type BenchmarkResult struct {
	Entries         int           `json:"entries"`
	InputBytes      int64         `json:"input_bytes"`
	StoredBytes     int64         `json:"stored_bytes"`
	DeflateBytes    int64         `json:"deflate_bytes"`
	StoredDuration  time.Duration `json:"stored_duration"`
	DeflateDuration time.Duration `json:"deflate_duration"`
	// Speedup is DeflateDuration / StoredDuration.
	Speedup float64 `json:"speedup"`
	// SizePenalty is how much larger the stored archive is, in percent.
	SizePenalty float64 `json:"size_penalty_pct"`
}

// Benchmark packs entries twice, once stored and once with DEFLATE at
// BenchmarkLevel, and reports the cost of each.
func Benchmark(entries []domain.ImageEntry) (*BenchmarkResult, error) {
	res := &BenchmarkResult{Entries: len(entries)}
	for _, e := range entries {
		res.InputBytes += int64(len(e.Data))
	}

	start := time.Now()
	stored, err := Pack(entries)
	if err != nil {
		return nil, err
	}
	res.StoredDuration = time.Since(start)
	res.StoredBytes = int64(len(stored))

	start = time.Now()
	deflated, err := packDeflate(entries, BenchmarkLevel)
	if err != nil {
		return nil, err
	}
	res.DeflateDuration = time.Since(start)
	res.DeflateBytes = int64(len(deflated))

	if res.StoredDuration > 0 {
		res.Speedup = float64(res.DeflateDuration) / float64(res.StoredDuration)
	}
	if res.DeflateBytes > 0 {
		res.SizePenalty = float64(res.StoredBytes-res.DeflateBytes) / float64(res.DeflateBytes) * 100
	}
	return res, nil
}

func packDeflate(entries []domain.ImageEntry, level int) ([]byte, error) {
	newWriter := func(w io.Writer) *zip.Writer {
		zw := zip.NewWriter(w)
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		})
		return zw
	}
	return pack(newWriter, entries, zip.Deflate)
}
