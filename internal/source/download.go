package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
)

// ChunkFetcher downloads a payload piece by piece. done reports that the
// returned chunk is the last one.
type ChunkFetcher interface {
	NextChunk(ctx context.Context) (chunk []byte, done bool, err error)
}

// ChunkedDownload calls NextChunk until the fetcher reports completion and
// returns the chunks concatenated in order.
func ChunkedDownload(ctx context.Context, f ChunkFetcher) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, done, err := f.NextChunk(ctx)
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
		if done {
			return buf.Bytes(), nil
		}
	}
}

// rangeFetcher issues HTTP Range requests against one Drive file.
type rangeFetcher struct {
	files     FileService
	limiter   *rate.Limiter
	fileID    string
	chunkSize int64
	offset    int64
	total     int64 // -1 until the first Content-Range is seen
}

func (r *rangeFetcher) NextChunk(ctx context.Context) ([]byte, bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	resp, err := r.files.GetRange(ctx, r.fileID, r.offset, r.offset+r.chunkSize-1)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusRequestedRangeNotSatisfiable {
			// Empty file, or the previous chunk ended exactly at EOF.
			return nil, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	chunk, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading chunk at offset %d: %w", r.offset, err)
	}

	// A 200 means the server ignored the range and sent the whole payload.
	if resp.StatusCode == http.StatusOK {
		return chunk, true, nil
	}

	if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
		r.total = total
	}
	r.offset += int64(len(chunk))

	done := int64(len(chunk)) < r.chunkSize || (r.total >= 0 && r.offset >= r.total)
	return chunk, done, nil
}

// parseContentRangeTotal extracts the complete length from a header such as
// "bytes 0-1023/4096". An unknown length ("*") reports false.
func parseContentRangeTotal(h string) (int64, bool) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 || i == len(h)-1 {
		return 0, false
	}
	total, err := strconv.ParseInt(h[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}
