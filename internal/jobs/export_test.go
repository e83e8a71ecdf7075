package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagwatch/tagwatch/internal/model"
)

type staticSource []model.ScanRecord

func (s staticSource) Records() ([]model.ScanRecord, error) { return s, nil }

type recordingUploader struct {
	s3manageriface.UploaderAPI
	key  string
	body []byte
	err  error
}

func (u *recordingUploader) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if u.err != nil {
		return nil, u.err
	}
	u.key = aws.StringValue(in.Key)
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	u.body = body
	return &s3manager.UploadOutput{Location: "s3://bucket/" + u.key}, nil
}

func sampleRecords() staticSource {
	return staticSource{
		{ID: 1, ScanID: 1, Namespace: "prod", Name: "web", Image: "nginx:1.0.0", CurrentVersion: "1.0.0",
			LatestVersion: "1.1.0", UpdateAvailable: model.Available, GitOpsRepo: model.StringPtr("infra"),
			LastScanned: "2024-03-01 10:00:00"},
		{ID: 2, ScanID: 1, Namespace: "prod", Name: "api", Image: "ghcr.io/org/api:2.0.0", CurrentVersion: "2.0.0",
			UpdateAvailable: model.NotAvailable, LastScanned: "2024-03-01 10:00:01"},
	}
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRenderCSV(t *testing.T) {
	data, err := RenderCSV(sampleRecords())
	require.NoError(t, err)

	rows := readCSV(t, data)
	require.Len(t, rows, 3)
	header := []string{"id", "scan_id", "namespace", "name", "image", "current_version",
		"latest_version", "update_available", "git_ops_repo", "last_scanned"}
	if diff := cmp.Diff(header, rows[0]); diff != "" {
		t.Error(diff)
	}
	assert.Equal(t, "web", rows[1][3])
	assert.Equal(t, "1.1.0", rows[1][6])
	assert.Equal(t, "Available", rows[1][7])
	assert.Equal(t, "infra", rows[1][8])
	assert.Equal(t, "NotAvailable", rows[2][7])
}

func TestRenderCSVEmpty(t *testing.T) {
	_, err := RenderCSV(nil)
	assert.True(t, errors.Is(err, model.ErrNotFound), "got %v", err)
}

func TestExportHistoryWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	e, err := NewExporter(sampleRecords(), dir, "", "")
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	path, err := e.ExportHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tagwatch-history-20240301T100000Z.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, readCSV(t, data), 3)
}

func TestExportHistoryUploads(t *testing.T) {
	uploader := &recordingUploader{}
	e, err := NewExporter(sampleRecords(), t.TempDir(), "", "")
	require.NoError(t, err)
	e.bucket = "reports"
	e.uploader = uploader

	path, err := e.ExportHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(path), uploader.key)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, onDisk, uploader.body)
}

func TestExportHistoryUploadFailure(t *testing.T) {
	e, err := NewExporter(sampleRecords(), t.TempDir(), "", "")
	require.NoError(t, err)
	e.bucket = "reports"
	e.uploader = &recordingUploader{err: errors.New("access denied")}

	path, err := e.ExportHistory(context.Background())
	assert.ErrorContains(t, err, "access denied")
	assert.FileExists(t, path)
}

func TestSnapshotCounts(t *testing.T) {
	records := append(sampleRecords(), model.ScanRecord{
		ID: 3, ScanID: 2, Namespace: "prod", Name: "web", Image: "nginx:1.1.0",
		CurrentVersion: "1.1.0", UpdateAvailable: model.NotAvailable, LastScanned: "2024-03-01 12:00:00",
	})
	data, err := RenderCSV(records)
	require.NoError(t, err)

	counts, err := SnapshotCounts(bytes.NewReader(data))
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]int{"prod/web": 2, "prod/api": 1}, counts); diff != "" {
		t.Error(diff)
	}
}

func TestSnapshotCountsMissingColumn(t *testing.T) {
	_, err := SnapshotCounts(bytes.NewReader([]byte("namespace,image\nprod,nginx:1.0.0\n")))
	assert.ErrorContains(t, err, "scan_id")
}
