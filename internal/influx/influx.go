// Package influx exports relay statistics to InfluxDB.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/OCAP2/elsewhere/internal/config"
	"github.com/OCAP2/elsewhere/internal/relay"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

// Measurement is the name of the points written for registry snapshots.
const Measurement = "relay_stats"

// ErrDisabled is returned by Connect when the exporter is turned off.
var ErrDisabled = errors.New("influx export is disabled")

// Reporter writes registry snapshots to InfluxDB. When the server cannot be
// reached, points go to a gzipped line-protocol backup file instead.
// Writes and Close may be called from different goroutines.
type Reporter struct {
	mu sync.Mutex


	Client     influxdb2.Client
	Writer     influxdb2_api.WriteAPI
	IsValid    bool
	Logger     zerolog.Logger
	BackupPath string

	cfg          config.InfluxConfig
	backupFile   *os.File
	backupWriter *gzip.Writer
}

// NewReporter creates a new InfluxDB reporter.
func NewReporter(log zerolog.Logger, cfg config.InfluxConfig, backupPath string) *Reporter {
	return &Reporter{
		Logger:     log.With().Str("component", "influx").Logger(),
		BackupPath: backupPath,
		cfg:        cfg,
	}
}

// Connect establishes a connection to InfluxDB, falling back to the backup
// file when the server does not answer.
func (r *Reporter) Connect(ctx context.Context) error {
	if !r.cfg.Enabled {
		return ErrDisabled
	}

	r.Client = influxdb2.NewClientWithOptions(
		r.cfg.URL(),
		r.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(100).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := r.Client.Ping(ctx)
	if err != nil || !running {
		r.mu.Lock()
		r.IsValid = false
		r.mu.Unlock()
		r.Logger.Info().Str("backupPath", r.BackupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		return r.openBackup()
	}

	if err := r.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}

	writer := r.Client.WriteAPI(r.cfg.Org, r.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			r.Logger.Error().Err(writeErr).Str("bucket", r.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(writer.Errors())

	r.mu.Lock()
	r.Writer = writer
	r.IsValid = true
	r.mu.Unlock()
	r.Logger.Info().Str("url", r.cfg.URL()).Msg("InfluxDB client initialized")
	return nil
}

func (r *Reporter) openBackup() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backupWriter != nil {
		return nil
	}
	file, err := os.OpenFile(r.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	r.backupFile = file
	r.backupWriter = gzip.NewWriter(file)
	return nil
}

func (r *Reporter) setupOrganizationAndBucket(ctx context.Context) error {
	orgName := r.cfg.Org

	// ensure org exists
	influxOrg, err := r.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		r.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = r.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			r.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return fmt.Errorf("creating organization %s: %w", orgName, err)
		}
	}

	// ensure bucket exists with 7 day retention
	if _, err := r.Client.BucketsAPI().FindBucketByName(ctx, r.cfg.Bucket); err != nil {
		r.Logger.Info().Str("bucket", r.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = r.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, r.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 7,
		})
		if err != nil {
			r.Logger.Error().Err(err).Str("bucket", r.cfg.Bucket).Msg("Error creating bucket")
			return fmt.Errorf("creating bucket %s: %w", r.cfg.Bucket, err)
		}
	}

	return nil
}

// StatsPoint builds the point recorded for one registry snapshot.
func StatsPoint(stats relay.Stats, at time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPoint(
		Measurement,
		map[string]string{},
		map[string]any{
			"active":  stats.Active,
			"pending": stats.Pending,
		},
		at,
	)
}

// Report writes a point for stats.
func (r *Reporter) Report(stats relay.Stats) error {
	return r.WritePoint(StatsPoint(stats, time.Now()))
}

// WritePoint writes a point to InfluxDB or backup file.
func (r *Reporter) WritePoint(point *influxdb2_write.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.IsValid {
		r.Writer.WritePoint(point)
		return nil
	}

	if r.backupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := r.backupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending writes and releases the client and backup file.
// Points written after Close are rejected.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Writer != nil {
		r.Writer.Flush()
		r.Writer = nil
	}
	if r.Client != nil {
		r.Client.Close()
	}
	r.IsValid = false

	var errs []error
	if r.backupWriter != nil {
		errs = append(errs, r.backupWriter.Close())
		r.backupWriter = nil
	}
	if r.backupFile != nil {
		errs = append(errs, r.backupFile.Close())
		r.backupFile = nil
	}
	return errors.Join(errs...)
}
