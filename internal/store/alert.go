package store

import (
	"database/sql"
	"errors"
	"time"
)

// AlertStatus is the delivery state of a stored alert.
type AlertStatus string

const (
	AlertPending   AlertStatus = "pending"
	AlertDelivered AlertStatus = "delivered"
	AlertFailed    AlertStatus = "failed"
)

// Alert is a dispatched fall alert.
type Alert struct {
	ID          string
	TriggeredAt time.Time
	HasLocation bool
	Lat         float64
	Lng         float64
	MapLink     string
	SnapshotKey string
	Status      AlertStatus
	Error       string
	Attempts    int
}

// AlertRepository provides access to the alert history.
type AlertRepository struct {
	db *sql.DB
}

// Alerts returns the alert repository for this store.
func (s *Store) Alerts() *AlertRepository {
	return &AlertRepository{db: s.db}
}

const alertColumns = `id, triggered_at, has_location, lat, lng, map_link, snapshot_key, status, error, attempts`

// Create inserts a new alert. An empty status is stored as pending.
func (r *AlertRepository) Create(a *Alert) error {
	if a.Status == "" {
		a.Status = AlertPending
	}

	_, err := r.db.Exec(
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TriggeredAt, a.HasLocation, a.Lat, a.Lng, a.MapLink, a.SnapshotKey, string(a.Status), a.Error, a.Attempts,
	)
	return err
}

// GetByID retrieves an alert by its ID.
func (r *AlertRepository) GetByID(id string) (*Alert, error) {
	a, err := scanAlert(r.db.QueryRow(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// List returns the most recent alerts, newest first. limit <= 0 returns all.
func (r *AlertRepository) List(limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT `+alertColumns+` FROM alerts ORDER BY triggered_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return alerts, nil
}

// UpdateResult records the delivery outcome of an alert.
func (r *AlertRepository) UpdateResult(id string, status AlertStatus, attempts int, errMsg string) error {
	result, err := r.db.Exec(
		`UPDATE alerts SET status = ?, attempts = ?, error = ? WHERE id = ?`,
		string(status), attempts, errMsg, id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored alerts.
func (r *AlertRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	a := &Alert{}
	var hasLocation int
	var status string

	err := row.Scan(&a.ID, &a.TriggeredAt, &hasLocation, &a.Lat, &a.Lng, &a.MapLink, &a.SnapshotKey, &status, &a.Error, &a.Attempts)
	if err != nil {
		return nil, err
	}

	a.HasLocation = hasLocation != 0
	a.Status = AlertStatus(status)
	return a, nil
}
