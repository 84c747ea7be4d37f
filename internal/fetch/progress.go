package fetch

import "io"

// progressReader wraps an io.Reader and reports progress every interval bytes.
type progressReader struct {
	reader     io.Reader
	total      int64
	interval   int64
	onProgress func(read, total int64)
	read       int64
	sinceLast  int64
}

func newProgressReader(r io.Reader, total, interval int64, cb func(read, total int64)) *progressReader {
	return &progressReader{
		reader:     r,
		total:      total,
		interval:   interval,
		onProgress: cb,
	}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceLast += int64(n)

		if pr.sinceLast >= pr.interval {
			pr.onProgress(pr.read, pr.total)
			pr.sinceLast = 0
		}
	}

	return n, err
}
