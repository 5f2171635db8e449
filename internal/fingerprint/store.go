package fingerprint

import (
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 4

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dog_profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	confirmed INTEGER NOT NULL DEFAULT 0,
	confirmed_at TEXT,
	min_samples_for_auto_tag INTEGER NOT NULL DEFAULT 5,
	embedding BLOB,
	sample_count INTEGER NOT NULL DEFAULT 0,
	first_seen TEXT,
	last_seen TEXT,
	total_barks INTEGER NOT NULL DEFAULT 0,
	avg_duration_ms REAL,
	avg_pitch_hz REAL
);

CREATE TABLE IF NOT EXISTS bark_fingerprints (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	embedding BLOB,
	dog_id TEXT REFERENCES dog_profiles(id) ON DELETE SET NULL,
	match_confidence REAL,
	cluster_id TEXT,
	evidence_filename TEXT,
	rejection_reason TEXT,
	confirmed INTEGER,
	confirmed_at TEXT,
	detection_probability REAL NOT NULL,
	doa_degrees INTEGER,
	duration_ms REAL,
	pitch_hz REAL,
	spectral_centroid_hz REAL,
	mfcc_mean BLOB
);

CREATE INDEX IF NOT EXISTS idx_fingerprints_dog_id ON bark_fingerprints(dog_id);
CREATE INDEX IF NOT EXISTS idx_fingerprints_untagged ON bark_fingerprints(dog_id) WHERE dog_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_fingerprints_timestamp ON bark_fingerprints(timestamp);
CREATE INDEX IF NOT EXISTS idx_fingerprints_rejected ON bark_fingerprints(rejection_reason) WHERE rejection_reason IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_fingerprints_cluster_id ON bark_fingerprints(cluster_id);
`

// Store is the SQLite-backed fingerprint and dog-roster persistence layer.
// Every public method acquires what it needs from the pool and releases it;
// no connection or transaction is held across method calls.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the fingerprint database at path,
// applying pragmas and the schema migration.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("fingerprint: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("fingerprint: ping db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("fingerprint: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("fingerprint: create schema: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(`INSERT INTO schema_version(version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("fingerprint: seed schema_version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("fingerprint: read schema_version: %w", err)
	}

	if version >= schemaVersion {
		return nil
	}

	// Versions below 4 predate the rejection/confirmation columns. ALTER
	// TABLE ADD COLUMN is idempotent here because we only ever reach this
	// branch once per fresh database below the target version.
	alters := []string{
		`ALTER TABLE bark_fingerprints ADD COLUMN rejection_reason TEXT`,
		`ALTER TABLE bark_fingerprints ADD COLUMN confirmed INTEGER`,
		`ALTER TABLE bark_fingerprints ADD COLUMN confirmed_at TEXT`,
	}
	for _, alter := range alters {
		if _, err := s.db.Exec(alter); err != nil {
			return fmt.Errorf("fingerprint: migrate schema: %w", err)
		}
	}
	if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, schemaVersion); err != nil {
		return fmt.Errorf("fingerprint: bump schema_version: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func newID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("fingerprint: generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func encodeEmbedding(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func nullableTimeString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateDog inserts a new dog profile and returns its generated ID.
func (s *Store) CreateDog(name, notes string, minSamplesForAutoTag int) (string, error) {
	id, err := newID()
	if err != nil {
		return "", err
	}
	now := formatTime(time.Now())
	_, err = s.db.Exec(`
		INSERT INTO dog_profiles (id, name, notes, created_at, updated_at, min_samples_for_auto_tag, sample_count, total_barks)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0)`,
		id, name, notes, now, now, minSamplesForAutoTag)
	if err != nil {
		return "", fmt.Errorf("fingerprint: create dog: %w", err)
	}
	return id, nil
}

func (s *Store) scanDog(row interface {
	Scan(dest ...any) error
}) (DogProfile, error) {
	var d DogProfile
	var createdAt, updatedAt string
	var confirmedAt, firstSeen, lastSeen sql.NullString
	var embedding []byte
	var avgDurationMs, avgPitchHz sql.NullFloat64
	var confirmed int

	err := row.Scan(&d.ID, &d.Name, &d.Notes, &createdAt, &updatedAt, &confirmed, &confirmedAt,
		&d.MinSamplesForAutoTag, &embedding, &d.SampleCount, &firstSeen, &lastSeen, &d.TotalBarks,
		&avgDurationMs, &avgPitchHz)
	if err != nil {
		return DogProfile{}, err
	}

	d.Confirmed = confirmed != 0
	d.Embedding = decodeEmbedding(embedding)
	if avgDurationMs.Valid {
		v := avgDurationMs.Float64
		d.AvgDurationMs = &v
	}
	if avgPitchHz.Valid {
		v := avgPitchHz.Float64
		d.AvgPitchHz = &v
	}

	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return DogProfile{}, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return DogProfile{}, err
	}
	if d.ConfirmedAt, err = scanNullableTime(confirmedAt); err != nil {
		return DogProfile{}, err
	}
	if d.FirstSeen, err = scanNullableTime(firstSeen); err != nil {
		return DogProfile{}, err
	}
	if d.LastSeen, err = scanNullableTime(lastSeen); err != nil {
		return DogProfile{}, err
	}
	return d, nil
}

const dogColumns = `id, name, notes, created_at, updated_at, confirmed, confirmed_at,
	min_samples_for_auto_tag, embedding, sample_count, first_seen, last_seen, total_barks,
	avg_duration_ms, avg_pitch_hz`

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("fingerprint: not found")

// GetDog fetches a dog profile by ID.
func (s *Store) GetDog(id string) (DogProfile, error) {
	row := s.db.QueryRow(`SELECT `+dogColumns+` FROM dog_profiles WHERE id = ?`, id)
	d, err := s.scanDog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DogProfile{}, ErrNotFound
	}
	if err != nil {
		return DogProfile{}, fmt.Errorf("fingerprint: get dog: %w", err)
	}
	return d, nil
}

// ListDogs returns every dog profile ordered by name.
func (s *Store) ListDogs() ([]DogProfile, error) {
	rows, err := s.db.Query(`SELECT ` + dogColumns + ` FROM dog_profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: list dogs: %w", err)
	}
	defer rows.Close()

	var out []DogProfile
	for rows.Next() {
		d, err := s.scanDog(rows)
		if err != nil {
			return nil, fmt.Errorf("fingerprint: scan dog: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDog updates the editable fields of a dog profile (name and notes).
func (s *Store) UpdateDog(id, name, notes string) error {
	res, err := s.db.Exec(`UPDATE dog_profiles SET name = ?, notes = ?, updated_at = ? WHERE id = ?`,
		name, notes, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("fingerprint: update dog: %w", err)
	}
	return requireRowsAffected(res)
}

// DeleteDog removes a dog profile. Fingerprints attributed to it are
// detached (dog_id set to NULL) rather than deleted, per the foreign key's
// ON DELETE SET NULL behavior.
func (s *Store) DeleteDog(id string) error {
	res, err := s.db.Exec(`DELETE FROM dog_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("fingerprint: delete dog: %w", err)
	}
	return requireRowsAffected(res)
}

// ConfirmDog marks a dog profile as confirmed.
func (s *Store) ConfirmDog(id string) error {
	now := time.Now()
	res, err := s.db.Exec(`UPDATE dog_profiles SET confirmed = 1, confirmed_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(now), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("fingerprint: confirm dog: %w", err)
	}
	return requireRowsAffected(res)
}

// UnconfirmDog clears a dog profile's confirmed state.
func (s *Store) UnconfirmDog(id string) error {
	res, err := s.db.Exec(`UPDATE dog_profiles SET confirmed = 0, confirmed_at = NULL, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("fingerprint: unconfirm dog: %w", err)
	}
	return requireRowsAffected(res)
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fingerprint: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDogStats incrementally re-centers a dog's running embedding centroid
// toward a newly attributed fingerprint's embedding, weighted by sample
// count, then renormalizes to unit L2 norm. It also rolls the duration/pitch
// running averages and bumps sample_count/total_barks/last_seen.
func (s *Store) UpdateDogStats(dogID string, embedding []float32, durationMs, pitchHz *float64) error {
	d, err := s.GetDog(dogID)
	if err != nil {
		return err
	}

	newEmbedding := embedding
	if d.Embedding != nil {
		n := float64(d.SampleCount)
		newEmbedding = make([]float32, len(d.Embedding))
		for i := range newEmbedding {
			newEmbedding[i] = float32((float64(d.Embedding[i])*n + float64(embedding[i])) / (n + 1))
		}
		normalizeInPlace(newEmbedding)
	}

	newSampleCount := d.SampleCount + 1
	newAvgDuration := d.AvgDurationMs
	if durationMs != nil {
		newAvgDuration = rollingAverage(d.AvgDurationMs, d.SampleCount, *durationMs)
	}
	newAvgPitch := d.AvgPitchHz
	if pitchHz != nil {
		newAvgPitch = rollingAverage(d.AvgPitchHz, d.SampleCount, *pitchHz)
	}

	now := time.Now()
	firstSeen := d.FirstSeen
	if firstSeen == nil {
		firstSeen = timePtr(now)
	}

	_, err = s.db.Exec(`
		UPDATE dog_profiles SET embedding = ?, sample_count = ?, total_barks = total_barks + 1,
			avg_duration_ms = ?, avg_pitch_hz = ?, first_seen = ?, last_seen = ?, updated_at = ?
		WHERE id = ?`,
		encodeEmbedding(newEmbedding), newSampleCount, nullableFloat(newAvgDuration), nullableFloat(newAvgPitch),
		nullableTimeString(firstSeen), formatTime(now), formatTime(now), dogID)
	if err != nil {
		return fmt.Errorf("fingerprint: update dog stats: %w", err)
	}
	return nil
}

func rollingAverage(prev *float64, prevCount int, next float64) *float64 {
	if prev == nil || prevCount == 0 {
		return &next
	}
	v := (*prev*float64(prevCount) + next) / float64(prevCount+1)
	return &v
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func normalizeInPlace(v []float32) {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	if norm < 1e-12 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

const fingerprintColumns = `id, timestamp, embedding, dog_id, match_confidence, cluster_id,
	evidence_filename, rejection_reason, confirmed, confirmed_at, detection_probability,
	doa_degrees, duration_ms, pitch_hz, spectral_centroid_hz, mfcc_mean`

func (s *Store) scanFingerprint(row interface {
	Scan(dest ...any) error
}) (BarkFingerprint, error) {
	var f BarkFingerprint
	var timestamp string
	var embedding, mfcc []byte
	var dogID, clusterID, evidenceFilename, rejectionReason sql.NullString
	var matchConfidence, durationMs, pitchHz, spectralCentroid sql.NullFloat64
	var doaDegrees sql.NullInt64
	var confirmed sql.NullInt64
	var confirmedAt sql.NullString

	err := row.Scan(&f.ID, &timestamp, &embedding, &dogID, &matchConfidence, &clusterID,
		&evidenceFilename, &rejectionReason, &confirmed, &confirmedAt, &f.DetectionProbability,
		&doaDegrees, &durationMs, &pitchHz, &spectralCentroid, &mfcc)
	if err != nil {
		return BarkFingerprint{}, err
	}

	if f.Timestamp, err = parseTime(timestamp); err != nil {
		return BarkFingerprint{}, err
	}
	f.Embedding = decodeEmbedding(embedding)
	f.MFCCMean = decodeEmbedding(mfcc)
	if dogID.Valid {
		f.DogID = &dogID.String
	}
	if clusterID.Valid {
		f.ClusterID = &clusterID.String
	}
	if evidenceFilename.Valid {
		f.EvidenceFilename = &evidenceFilename.String
	}
	if rejectionReason.Valid {
		f.RejectionReason = &rejectionReason.String
	}
	if matchConfidence.Valid {
		f.MatchConfidence = &matchConfidence.Float64
	}
	if durationMs.Valid {
		f.DurationMs = &durationMs.Float64
	}
	if pitchHz.Valid {
		f.PitchHz = &pitchHz.Float64
	}
	if spectralCentroid.Valid {
		f.SpectralCentroidHz = &spectralCentroid.Float64
	}
	if doaDegrees.Valid {
		v := int(doaDegrees.Int64)
		f.DOADegrees = &v
	}
	if confirmed.Valid {
		v := confirmed.Int64 != 0
		f.Confirmed = &v
	}
	if f.ConfirmedAt, err = scanNullableTime(confirmedAt); err != nil {
		return BarkFingerprint{}, err
	}
	return f, nil
}

// SaveFingerprint inserts a new bark fingerprint and returns its generated ID.
func (s *Store) SaveFingerprint(f BarkFingerprint) (string, error) {
	id, err := newID()
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(`
		INSERT INTO bark_fingerprints (id, timestamp, embedding, dog_id, match_confidence, cluster_id,
			evidence_filename, rejection_reason, confirmed, confirmed_at, detection_probability,
			doa_degrees, duration_ms, pitch_hz, spectral_centroid_hz, mfcc_mean)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, formatTime(f.Timestamp), encodeEmbedding(f.Embedding), f.DogID, nullableFloat(f.MatchConfidence),
		f.ClusterID, f.EvidenceFilename, f.RejectionReason, nullableBool(f.Confirmed), nullableTimeString(f.ConfirmedAt),
		f.DetectionProbability, f.DOADegrees, nullableFloat(f.DurationMs), nullableFloat(f.PitchHz),
		nullableFloat(f.SpectralCentroidHz), encodeEmbedding(f.MFCCMean))
	if err != nil {
		return "", fmt.Errorf("fingerprint: save fingerprint: %w", err)
	}
	return id, nil
}

func nullableBool(v *bool) any {
	if v == nil {
		return nil
	}
	if *v {
		return 1
	}
	return 0
}

// GetFingerprint fetches a single fingerprint by ID.
func (s *Store) GetFingerprint(id string) (BarkFingerprint, error) {
	row := s.db.QueryRow(`SELECT `+fingerprintColumns+` FROM bark_fingerprints WHERE id = ?`, id)
	f, err := s.scanFingerprint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BarkFingerprint{}, ErrNotFound
	}
	if err != nil {
		return BarkFingerprint{}, fmt.Errorf("fingerprint: get fingerprint: %w", err)
	}
	return f, nil
}

// GetUntaggedFingerprints returns fingerprints with no dog attribution and
// no rejection, most recent first.
func (s *Store) GetUntaggedFingerprints(limit int) ([]BarkFingerprint, error) {
	rows, err := s.db.Query(`
		SELECT `+fingerprintColumns+` FROM bark_fingerprints
		WHERE dog_id IS NULL AND rejection_reason IS NULL
		ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: get untagged: %w", err)
	}
	defer rows.Close()
	return scanFingerprints(s, rows)
}

func scanFingerprints(s *Store, rows *sql.Rows) ([]BarkFingerprint, error) {
	var out []BarkFingerprint
	for rows.Next() {
		f, err := s.scanFingerprint(rows)
		if err != nil {
			return nil, fmt.Errorf("fingerprint: scan fingerprint: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// TagFingerprint attributes a fingerprint to a dog with the given confidence.
func (s *Store) TagFingerprint(id, dogID string, confidence float64) error {
	res, err := s.db.Exec(`UPDATE bark_fingerprints SET dog_id = ?, match_confidence = ?, rejection_reason = NULL WHERE id = ?`,
		dogID, confidence, id)
	if err != nil {
		return fmt.Errorf("fingerprint: tag fingerprint: %w", err)
	}
	return requireRowsAffected(res)
}

// UntagFingerprint removes a fingerprint's dog attribution.
func (s *Store) UntagFingerprint(id string) error {
	res, err := s.db.Exec(`UPDATE bark_fingerprints SET dog_id = NULL, match_confidence = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("fingerprint: untag fingerprint: %w", err)
	}
	return requireRowsAffected(res)
}

// RejectFingerprint marks a fingerprint as rejected with a reason, clearing
// any dog attribution.
func (s *Store) RejectFingerprint(id, reason string) error {
	res, err := s.db.Exec(`UPDATE bark_fingerprints SET rejection_reason = ?, dog_id = NULL, match_confidence = NULL WHERE id = ?`,
		reason, id)
	if err != nil {
		return fmt.Errorf("fingerprint: reject fingerprint: %w", err)
	}
	return requireRowsAffected(res)
}

// UnrejectFingerprint clears a fingerprint's rejection reason.
func (s *Store) UnrejectFingerprint(id string) error {
	res, err := s.db.Exec(`UPDATE bark_fingerprints SET rejection_reason = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("fingerprint: unreject fingerprint: %w", err)
	}
	return requireRowsAffected(res)
}

// ConfirmFingerprint marks a fingerprint's tag as human-confirmed.
func (s *Store) ConfirmFingerprint(id string) error {
	now := time.Now()
	res, err := s.db.Exec(`UPDATE bark_fingerprints SET confirmed = 1, confirmed_at = ? WHERE id = ?`,
		formatTime(now), id)
	if err != nil {
		return fmt.Errorf("fingerprint: confirm fingerprint: %w", err)
	}
	return requireRowsAffected(res)
}

// UnconfirmFingerprint clears a fingerprint's confirmed state.
func (s *Store) UnconfirmFingerprint(id string) error {
	res, err := s.db.Exec(`UPDATE bark_fingerprints SET confirmed = 0, confirmed_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("fingerprint: unconfirm fingerprint: %w", err)
	}
	return requireRowsAffected(res)
}

// LinkEvidenceToFingerprints attaches an evidence filename to one or more
// fingerprints sharing a timestamp window.
func (s *Store) LinkEvidenceToFingerprints(ids []string, evidenceFilename string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("fingerprint: link evidence: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE bark_fingerprints SET evidence_filename = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("fingerprint: link evidence: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(evidenceFilename, id); err != nil {
			return fmt.Errorf("fingerprint: link evidence: %w", err)
		}
	}
	return tx.Commit()
}

// GetFingerprintsForDog returns all fingerprints attributed to a dog, most
// recent first.
func (s *Store) GetFingerprintsForDog(dogID string) ([]BarkFingerprint, error) {
	rows, err := s.db.Query(`SELECT `+fingerprintColumns+` FROM bark_fingerprints WHERE dog_id = ? ORDER BY timestamp DESC`, dogID)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: get fingerprints for dog: %w", err)
	}
	defer rows.Close()
	return scanFingerprints(s, rows)
}

// FindMatches ranks dog profiles that have an embedding (only confirmed,
// auto-taggable ones when onlyAutoTaggable is set) by cosine similarity of
// their embedding centroid to q, returning up to topK matches at or above
// threshold. Embeddings are stored pre-normalized to unit L2
// norm, so cosine similarity reduces to a dot product.
func (s *Store) FindMatches(q []float32, threshold float64, topK int, onlyAutoTaggable bool) ([]FingerprintMatch, error) {
	dogs, err := s.ListDogs()
	if err != nil {
		return nil, fmt.Errorf("fingerprint: find matches: %w", err)
	}

	var candidates []FingerprintMatch
	for _, d := range dogs {
		if d.Embedding == nil {
			continue
		}
		if onlyAutoTaggable && !d.CanAutoTag() {
			continue
		}
		sim := dotProduct(q, d.Embedding)
		if sim < threshold {
			continue
		}
		candidates = append(candidates, FingerprintMatch{DogID: d.ID, DogName: d.Name, Confidence: sim, SampleCount: d.SampleCount})
	}

	sortMatchesDescending(candidates)
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func dotProduct(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func sortMatchesDescending(m []FingerprintMatch) {
	for i := 1; i < len(m); i++ {
		for j := i; j > 0 && m[j].Confidence > m[j-1].Confidence; j-- {
			m[j], m[j-1] = m[j-1], m[j]
		}
	}
}

// MergeDogs atomically folds source's fingerprints and weighted-average
// embedding centroid into target, then deletes source.
func (s *Store) MergeDogs(sourceID, targetID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("fingerprint: merge dogs: %w", err)
	}
	defer tx.Rollback()

	source, err := s.scanDogTx(tx, sourceID)
	if err != nil {
		return fmt.Errorf("fingerprint: merge dogs: source: %w", err)
	}
	target, err := s.scanDogTx(tx, targetID)
	if err != nil {
		return fmt.Errorf("fingerprint: merge dogs: target: %w", err)
	}

	mergedEmbedding := target.Embedding
	if source.Embedding != nil {
		if target.Embedding == nil {
			mergedEmbedding = source.Embedding
		} else {
			sn, tn := float64(source.SampleCount), float64(target.SampleCount)
			total := sn + tn
			mergedEmbedding = make([]float32, len(target.Embedding))
			for i := range mergedEmbedding {
				if total == 0 {
					mergedEmbedding[i] = target.Embedding[i]
					continue
				}
				mergedEmbedding[i] = float32((float64(target.Embedding[i])*tn + float64(source.Embedding[i])*sn) / total)
			}
			normalizeInPlace(mergedEmbedding)
		}
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE dog_profiles SET embedding = ?, sample_count = sample_count + ?, total_barks = total_barks + ?, updated_at = ?
		WHERE id = ?`,
		encodeEmbedding(mergedEmbedding), source.SampleCount, source.TotalBarks, formatTime(now), targetID)
	if err != nil {
		return fmt.Errorf("fingerprint: merge dogs: update target: %w", err)
	}

	if _, err := tx.Exec(`UPDATE bark_fingerprints SET dog_id = ? WHERE dog_id = ?`, targetID, sourceID); err != nil {
		return fmt.Errorf("fingerprint: merge dogs: reassign fingerprints: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM dog_profiles WHERE id = ?`, sourceID); err != nil {
		return fmt.Errorf("fingerprint: merge dogs: delete source: %w", err)
	}

	return tx.Commit()
}

func (s *Store) scanDogTx(tx *sql.Tx, id string) (DogProfile, error) {
	row := tx.QueryRow(`SELECT `+dogColumns+` FROM dog_profiles WHERE id = ?`, id)
	d, err := s.scanDog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DogProfile{}, ErrNotFound
	}
	return d, err
}

// ListFingerprints returns a filtered, paginated slice of fingerprints along
// with the total count matching the filter (ignoring limit/offset).
func (s *Store) ListFingerprints(limit, offset int, filter ListFilter) ([]BarkFingerprint, int, error) {
	where, args := buildFingerprintFilter(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM bark_fingerprints` + where
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("fingerprint: list fingerprints: count: %w", err)
	}

	query := `SELECT ` + fingerprintColumns + ` FROM bark_fingerprints` + where + ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	queryArgs := append(append([]any{}, args...), limit, offset)
	rows, err := s.db.Query(query, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("fingerprint: list fingerprints: %w", err)
	}
	defer rows.Close()

	out, err := scanFingerprints(s, rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func buildFingerprintFilter(filter ListFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.DogID != nil {
		clauses = append(clauses, "dog_id = ?")
		args = append(args, *filter.DogID)
	}
	if filter.Untagged {
		clauses = append(clauses, "dog_id IS NULL AND rejection_reason IS NULL")
	}
	if filter.Rejected != nil {
		if *filter.Rejected {
			clauses = append(clauses, "rejection_reason IS NOT NULL")
		} else {
			clauses = append(clauses, "rejection_reason IS NULL")
		}
	}

	if len(clauses) == 0 {
		return "", args
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

// DeleteFingerprint removes a single fingerprint by ID.
func (s *Store) DeleteFingerprint(id string) error {
	res, err := s.db.Exec(`DELETE FROM bark_fingerprints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("fingerprint: delete fingerprint: %w", err)
	}
	return requireRowsAffected(res)
}

// PurgeFingerprints deletes every fingerprint older than before.
func (s *Store) PurgeFingerprints(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM bark_fingerprints WHERE timestamp < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("fingerprint: purge fingerprints: %w", err)
	}
	return res.RowsAffected()
}

// Stats summarizes roster and fingerprint counts for observability.
type Stats struct {
	TotalDogs         int
	ConfirmedDogs     int
	TotalFingerprints int
	UntaggedCount     int
	RejectedCount     int
}

// Stats computes a snapshot of store-wide counters.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM dog_profiles`).Scan(&st.TotalDogs); err != nil {
		return Stats{}, fmt.Errorf("fingerprint: stats: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM dog_profiles WHERE confirmed = 1`).Scan(&st.ConfirmedDogs); err != nil {
		return Stats{}, fmt.Errorf("fingerprint: stats: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM bark_fingerprints`).Scan(&st.TotalFingerprints); err != nil {
		return Stats{}, fmt.Errorf("fingerprint: stats: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM bark_fingerprints WHERE dog_id IS NULL AND rejection_reason IS NULL`).Scan(&st.UntaggedCount); err != nil {
		return Stats{}, fmt.Errorf("fingerprint: stats: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM bark_fingerprints WHERE rejection_reason IS NOT NULL`).Scan(&st.RejectedCount); err != nil {
		return Stats{}, fmt.Errorf("fingerprint: stats: %w", err)
	}
	return st, nil
}
