package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/go-gota/gota/dataframe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/model"
)

var exportedRows = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tagwatch_history_exported_rows_total",
	Help: "Scan records written by the history export job",
})

type RecordSource interface {
	Records() ([]model.ScanRecord, error)
}

// exportRow flattens a ScanRecord into columns gota can load.
type exportRow struct {
	ID              int    `dataframe:"id"`
	ScanID          int    `dataframe:"scan_id"`
	Namespace       string `dataframe:"namespace"`
	Name            string `dataframe:"name"`
	Image           string `dataframe:"image"`
	CurrentVersion  string `dataframe:"current_version"`
	LatestVersion   string `dataframe:"latest_version"`
	UpdateAvailable string `dataframe:"update_available"`
	GitOpsRepo      string `dataframe:"git_ops_repo"`
	LastScanned     string `dataframe:"last_scanned"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toRows(records []model.ScanRecord) []exportRow {
	rows := make([]exportRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, exportRow{
			ID:              int(r.ID),
			ScanID:          r.ScanID,
			Namespace:       r.Namespace,
			Name:            r.Name,
			Image:           r.Image,
			CurrentVersion:  r.CurrentVersion,
			LatestVersion:   r.LatestVersion,
			UpdateAvailable: r.UpdateAvailable.String(),
			GitOpsRepo:      deref(r.GitOpsRepo),
			LastScanned:     r.LastScanned,
		})
	}
	return rows
}

// RenderCSV writes every scan record as CSV, oldest first.
func RenderCSV(records []model.ScanRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no scan records to export", model.ErrNotFound)
	}
	df := dataframe.LoadStructs(toRows(records))
	if df.Err != nil {
		return nil, fmt.Errorf("unable to build export frame: %w", df.Err)
	}
	var buf bytes.Buffer
	if err := df.WriteCSV(&buf); err != nil {
		return nil, fmt.Errorf("unable to write export csv: %w", err)
	}
	return buf.Bytes(), nil
}

type Exporter struct {
	source   RecordSource
	outDir   string
	bucket   string
	uploader s3manageriface.UploaderAPI
	now      func() time.Time
}

// NewExporter writes reports into outDir. When bucket is set the report is
// also uploaded to S3 in region.
func NewExporter(source RecordSource, outDir, bucket, region string) (*Exporter, error) {
	e := &Exporter{source: source, outDir: outDir, bucket: bucket, now: time.Now}
	if bucket != "" {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
		if err != nil {
			return nil, fmt.Errorf("%w: unable to create aws session: %w", model.ErrConfiguration, err)
		}
		e.uploader = s3manager.NewUploader(sess)
	}
	return e, nil
}

// ExportHistory writes the full scan log to a timestamped CSV file and returns
// its path.
func (e *Exporter) ExportHistory(ctx context.Context) (string, error) {
	log := logging.GetLogger()

	records, err := e.source.Records()
	if err != nil {
		return "", err
	}
	data, err := RenderCSV(records)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return "", fmt.Errorf("unable to create export dir: %w", err)
	}
	name := fmt.Sprintf("tagwatch-history-%s.csv", e.now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(e.outDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("unable to write %s: %w", path, err)
	}
	exportedRows.Add(float64(len(records)))
	log.Infof("exported %d scan records to %s", len(records), path)

	if e.uploader == nil {
		return path, nil
	}
	out, err := e.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return path, fmt.Errorf("unable to upload %s to bucket %s: %w", name, e.bucket, err)
	}
	log.Infof("uploaded history export to %s", out.Location)
	return path, nil
}

// SnapshotCounts reads an exported report and returns the number of rows per
// namespace/name.
func SnapshotCounts(r io.Reader) (map[string]int, error) {
	df := dataframe.ReadCSV(r, dataframe.DetectTypes(false))
	if df.Err != nil {
		return nil, fmt.Errorf("unable to read export csv: %w", df.Err)
	}
	for _, col := range []string{"namespace", "name", "scan_id"} {
		if !slices.Contains(df.Names(), col) {
			return nil, fmt.Errorf("export csv is missing column %q", col)
		}
	}
	counts := map[string]int{}
	for _, group := range df.GroupBy("namespace", "name").GetGroups() {
		key := group.Col("namespace").Elem(0).String() + "/" + group.Col("name").Elem(0).String()
		counts[key] = group.Nrow()
	}
	return counts, nil
}
