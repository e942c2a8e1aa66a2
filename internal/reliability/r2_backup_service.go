package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	archivePrefix   = "helmsman-backup-"
	archiveTimeFmt  = "2006-01-02-150405"
	metadataEntry   = "backup-metadata.json"
	minArchivesKept = 3
)

// R2BackupService bundles snapshots of every database into a tar.gz
// archive and uploads it to Cloudflare R2.
type R2BackupService struct {
	r2      *R2Client
	backups *BackupService
	dataDir string
	log     zerolog.Logger
}

// BackupMetadata is the manifest embedded in each archive.
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes one database file inside an archive.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo is a stored archive as listed from R2.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// NewR2BackupService creates a new R2 backup service.
func NewR2BackupService(r2 *R2Client, backups *BackupService, dataDir string, log zerolog.Logger) *R2BackupService {
	return &R2BackupService{
		r2:      r2,
		backups: backups,
		dataDir: dataDir,
		log:     log.With().Str("service", "r2_backup").Logger(),
	}
}

// CreateAndUploadBackup snapshots every database into a staging
// directory, archives the snapshots together with a manifest, and
// uploads the archive. The staging directory is removed afterwards.
func (s *R2BackupService) CreateAndUploadBackup(ctx context.Context) error {
	start := time.Now()
	s.log.Info().Msg("Starting R2 backup")

	staging, err := os.MkdirTemp(s.dataDir, "r2-staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, name := range s.backups.DatabaseNames() {
		dst := filepath.Join(staging, name+".db")
		if err := s.backups.BackupDatabase(name, dst); err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", name, err)
		}
	}

	archiveName := archivePrefix + start.Format(archiveTimeFmt) + ".tar.gz"
	archivePath := filepath.Join(staging, archiveName)
	if err := s.buildArchive(archivePath, staging); err != nil {
		return fmt.Errorf("failed to build archive: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	if err := s.r2.Upload(ctx, archiveName, f, info.Size()); err != nil {
		return fmt.Errorf("failed to upload to r2: %w", err)
	}

	s.log.Info().
		Str("archive", archiveName).
		Int64("size_bytes", info.Size()).
		Dur("elapsed", time.Since(start)).
		Msg("R2 backup completed")
	return nil
}

// buildArchive writes the staged database snapshots into a tar.gz at
// archivePath, hashing each file as it streams in, and finishes with
// the manifest as the last tar entry.
func (s *R2BackupService) buildArchive(archivePath, staging string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	meta := BackupMetadata{
		Timestamp: time.Now().UTC(),
		Version:   "1.0.0",
	}

	for _, name := range s.backups.DatabaseNames() {
		filename := name + ".db"
		checksum, size, err := addHashedEntry(tw, filepath.Join(staging, filename), filename)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", filename, err)
		}
		meta.Databases = append(meta.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  filename,
			SizeBytes: size,
			Checksum:  checksum,
		})
	}

	manifest, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	header := &tar.Header{
		Name:    metadataEntry,
		Size:    int64(len(manifest)),
		Mode:    0644,
		ModTime: meta.Timestamp,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = tw.Write(manifest)
	return err
}

// addHashedEntry copies one file into the tar stream while computing
// its sha256 in the same pass.
func addHashedEntry(tw *tar.Writer, path, nameInArchive string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return "", 0, err
	}

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tw, hash), f); err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), info.Size(), nil
}

// ListBackups lists stored archives, newest first. Objects that do not
// look like our archives are ignored.
func (s *R2BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.r2.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list r2 backups: %w", err)
	}

	now := time.Now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		ts, ok := parseArchiveTime(*obj.Key)
		if !ok {
			s.log.Warn().Str("key", *obj.Key).Msg("Skipping object with unrecognized name")
			continue
		}

		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, BackupInfo{
			Filename:  *obj.Key,
			Timestamp: ts,
			SizeBytes: size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// parseArchiveTime extracts the creation time from an archive key.
func parseArchiveTime(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, archivePrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, archivePrefix), ".tar.gz")
	ts, err := time.Parse(archiveTimeFmt, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// RotateOldBackups deletes archives older than the retention period.
// The newest three archives survive regardless of age.
func (s *R2BackupService) RotateOldBackups(ctx context.Context, retentionDays int) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) <= minArchivesKept || retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, b := range backups[minArchivesKept:] {
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.r2.Delete(ctx, b.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", b.Filename).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("R2 backup rotation completed")
	return nil
}

// ReadManifest extracts the manifest from a downloaded archive stream.
// Used to verify what an archive contains without unpacking it.
func ReadManifest(r io.Reader) (*BackupMetadata, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("archive has no %s entry", metadataEntry)
		}
		if err != nil {
			return nil, err
		}
		if header.Name != metadataEntry {
			continue
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, err
		}
		var meta BackupMetadata
		if err := json.Unmarshal(buf.Bytes(), &meta); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
		return &meta, nil
	}
}

// R2BackupJob uploads a fresh archive and rotates old ones on a
// schedule.
type R2BackupJob struct {
	service       *R2BackupService
	retentionDays int
}

// NewR2BackupJob creates a new R2 backup job.
func NewR2BackupJob(service *R2BackupService, retentionDays int) *R2BackupJob {
	return &R2BackupJob{service: service, retentionDays: retentionDays}
}

// Run uploads a fresh archive, then prunes expired ones.
func (j *R2BackupJob) Run() error {
	ctx := context.Background()
	if err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	return j.service.RotateOldBackups(ctx, j.retentionDays)
}

// Name returns the job name for the scheduler.
func (j *R2BackupJob) Name() string {
	return "r2_backup"
}
