package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Kind says where a saved detection came from.
type Kind string

const (
	// KindSign is a recognized hand sign.
	KindSign Kind = "sign"
	// KindSpeech is a speech transcription.
	KindSpeech Kind = "speech"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindSign || k == KindSpeech
}

// Detection is a saved detection record.
type Detection struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"type"`
	Label        string    `json:"label"`
	Translation  string    `json:"translation,omitempty"`
	Confidence   float64   `json:"confidence"`
	ModelVersion string    `json:"model_version,omitempty"`
	DetectedAt   time.Time `json:"detected_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// DetectionRepository provides CRUD operations for saved detections.
type DetectionRepository struct {
	db *sql.DB
}

// Detections returns the detection repository for this store.
func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{db: s.db}
}

// Create inserts d, assigning an ID and timestamps when they are unset.
func (r *DetectionRepository) Create(d *Detection) error {
	if !d.Kind.Valid() {
		return fmt.Errorf("invalid detection kind %q", d.Kind)
	}
	if d.Label == "" {
		return errors.New("detection label is required")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	if d.DetectedAt.IsZero() {
		d.DetectedAt = d.CreatedAt
	}

	_, err := r.db.Exec(
		`INSERT INTO detections (id, kind, label, translation, confidence, model_version, detected_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, string(d.Kind), d.Label, d.Translation, d.Confidence, d.ModelVersion, d.DetectedAt.UTC(), d.CreatedAt,
	)
	return err
}

// GetByID retrieves a detection by its ID.
func (r *DetectionRepository) GetByID(id string) (*Detection, error) {
	row := r.db.QueryRow(
		`SELECT id, kind, label, translation, confidence, model_version, detected_at, created_at
		 FROM detections WHERE id = ?`,
		id,
	)
	d, err := scanDetection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// List returns the most recent detections first. An empty kind lists all
// kinds; limit <= 0 means no limit.
func (r *DetectionRepository) List(kind Kind, limit int) ([]*Detection, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT id, kind, label, translation, confidence, model_version, detected_at, created_at
		 FROM detections
		 WHERE (? = '' OR kind = ?)
		 ORDER BY detected_at DESC, created_at DESC
		 LIMIT ?`,
		string(kind), string(kind), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []*Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

// CountSince returns how many detections of kind were made at or after since.
func (r *DetectionRepository) CountSince(kind Kind, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM detections WHERE (? = '' OR kind = ?) AND detected_at >= ?`,
		string(kind), string(kind), since.UTC(),
	).Scan(&n)
	return n, err
}

// Delete removes a detection by ID.
func (r *DetectionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM detections WHERE id = ?`, id)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByKind removes every detection of kind and returns how many were
// removed.
func (r *DetectionRepository) DeleteByKind(kind Kind) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("invalid detection kind %q", kind)
	}
	result, err := r.db.Exec(`DELETE FROM detections WHERE kind = ?`, string(kind))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDetection(row scanner) (*Detection, error) {
	d := &Detection{}
	var kind string
	if err := row.Scan(&d.ID, &kind, &d.Label, &d.Translation, &d.Confidence, &d.ModelVersion, &d.DetectedAt, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Kind = Kind(kind)
	return d, nil
}
