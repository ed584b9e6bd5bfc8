package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Content types fetched from a Drive folder. Everything else is skipped.
const (
	MimeTypeText = "text/plain"
	MimeTypePDF  = "application/pdf"
)

// DefaultChunkSize is the download chunk size used when none is configured.
const DefaultChunkSize = 1 << 20

// Drive API rate limits: well below the 10 requests/sec/user quota.
const (
	driveRequestsPerSecond = 8
	driveBurst             = 10
)

// FileService is the subset of the Drive files API used by the source.
type FileService interface {
	ListFiles(ctx context.Context, query, pageToken string) (*drive.FileList, error)
	// GetRange downloads the inclusive byte range [start, end] of a file.
	GetRange(ctx context.Context, fileID string, start, end int64) (*http.Response, error)
}

// Drive lists the allowed files of one folder and downloads each in chunks.
type Drive struct {
	files     FileService
	folderID  string
	chunkSize int64
	limiter   *rate.Limiter
}

// NewDrive returns a Drive source for folderID. chunkSize <= 0 selects
// DefaultChunkSize.
func NewDrive(files FileService, folderID string, chunkSize int) *Drive {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Drive{
		files:     files,
		folderID:  folderID,
		chunkSize: int64(chunkSize),
		limiter:   rate.NewLimiter(rate.Limit(driveRequestsPerSecond), driveBurst),
	}
}

func (d *Drive) Name() string {
	return "drive:" + d.folderID
}

// Query returns the metadata query sent to the files API.
func (d *Drive) Query() string {
	return fmt.Sprintf("'%s' in parents and (mimeType='%s' or mimeType='%s') and trashed=false",
		d.folderID, MimeTypeText, MimeTypePDF)
}

func (d *Drive) List(ctx context.Context) ([]File, error) {
	entries, err := d.listEntries(ctx)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		data, err := ChunkedDownload(ctx, d.fetcher(e.Id))
		if err != nil {
			return nil, fmt.Errorf("%w: downloading %s (%s): %s", ErrSourceUnavailable, e.Name, e.Id, describe(err))
		}
		slog.Debug("drive source: downloaded file", "name", e.Name, "bytes", len(data))
		files = append(files, File{
			ID:          e.Id,
			Name:        e.Name,
			ContentType: e.MimeType,
			Data:        data,
		})
	}
	return files, nil
}

// listEntries follows every result page and keeps only allowed content types.
func (d *Drive) listEntries(ctx context.Context) ([]*drive.File, error) {
	var (
		out   []*drive.File
		token string
	)
	for {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		page, err := d.files.ListFiles(ctx, d.Query(), token)
		if err != nil {
			return nil, fmt.Errorf("%w: listing folder %s: %s", ErrSourceUnavailable, d.folderID, describe(err))
		}
		for _, f := range page.Files {
			if !allowed(f.MimeType) {
				slog.Debug("drive source: skipping file", "name", f.Name, "mime_type", f.MimeType)
				continue
			}
			out = append(out, f)
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}

func (d *Drive) fetcher(fileID string) *rangeFetcher {
	return &rangeFetcher{
		files:     d.files,
		limiter:   d.limiter,
		fileID:    fileID,
		chunkSize: d.chunkSize,
		total:     -1,
	}
}

func allowed(mimeType string) bool {
	return mimeType == MimeTypeText || mimeType == MimeTypePDF
}

// describe turns Drive API errors into operator-facing text.
func describe(err error) string {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err.Error()
	}
	switch gerr.Code {
	case http.StatusUnauthorized:
		return "unauthorised (invalid service account credentials)"
	case http.StatusForbidden:
		return "forbidden (folder not shared with the service account)"
	case http.StatusNotFound:
		return "not found"
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	default:
		return err.Error()
	}
}

// NewDriveService builds a read-only Drive files client from service-account
// JSON. credentialsJSON takes precedence over credentialsFile.
func NewDriveService(ctx context.Context, credentialsJSON, credentialsFile string) (FileService, error) {
	raw := []byte(credentialsJSON)
	if len(raw) == 0 {
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading credentials file: %v", ErrSourceUnavailable, err)
		}
		raw = b
	}

	creds, err := google.CredentialsFromJSON(ctx, raw, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing service account: %v", ErrSourceUnavailable, err)
	}
	svc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("%w: creating drive client: %v", ErrSourceUnavailable, err)
	}
	return &driveFiles{svc: svc}, nil
}

type driveFiles struct {
	svc *drive.Service
}

func (f *driveFiles) ListFiles(ctx context.Context, query, pageToken string) (*drive.FileList, error) {
	call := f.svc.Files.List().
		Q(query).
		Fields("nextPageToken, files(id, name, mimeType, size)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

func (f *driveFiles) GetRange(ctx context.Context, fileID string, start, end int64) (*http.Response, error) {
	call := f.svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx)
	call.Header().Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	return call.Download()
}
