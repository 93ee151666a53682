package store

import (
	"database/sql"
	"encoding/json"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// SaveGeofence upserts a named geofence polygon. Points must carry at
// least 3 [lat,lon] pairs; callers validate before calling (the store
// itself only persists).
func (d *DB) SaveGeofence(g domain.GeofencePolygon) error {
	pointsJSON, err := json.Marshal(g.Points)
	if err != nil {
		return domain.ValidationError("encode geofence points: %v", err)
	}
	_, err = d.db.Exec(`INSERT INTO geofence_polygons (name, points_json, enter_message, exit_message)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET points_json=excluded.points_json, enter_message=excluded.enter_message, exit_message=excluded.exit_message`,
		g.Name, string(pointsJSON), g.EnterMessage, g.ExitMessage)
	if err != nil {
		return domain.StorageError(err, "save geofence %q", g.Name)
	}
	return nil
}

// GetGeofence looks up a geofence by name.
func (d *DB) GetGeofence(name string) (*domain.GeofencePolygon, error) {
	var g domain.GeofencePolygon
	var pointsJSON string
	g.Name = name
	err := d.db.QueryRow(`SELECT points_json, enter_message, exit_message FROM geofence_polygons WHERE name = ?`, name).
		Scan(&pointsJSON, &g.EnterMessage, &g.ExitMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError(err, "get geofence %q", name)
	}
	if err := json.Unmarshal([]byte(pointsJSON), &g.Points); err != nil {
		return nil, domain.StorageError(err, "decode geofence points for %q", name)
	}
	return &g, nil
}

// ListGeofences returns every configured geofence.
func (d *DB) ListGeofences() ([]domain.GeofencePolygon, error) {
	rows, err := d.db.Query(`SELECT name, points_json, enter_message, exit_message FROM geofence_polygons ORDER BY name`)
	if err != nil {
		return nil, domain.StorageError(err, "list geofences")
	}
	defer rows.Close()

	var out []domain.GeofencePolygon
	for rows.Next() {
		var g domain.GeofencePolygon
		var pointsJSON string
		if err := rows.Scan(&g.Name, &pointsJSON, &g.EnterMessage, &g.ExitMessage); err != nil {
			return nil, domain.StorageError(err, "scan geofence")
		}
		if err := json.Unmarshal([]byte(pointsJSON), &g.Points); err != nil {
			return nil, domain.StorageError(err, "decode geofence points for %q", g.Name)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGeofence removes a named geofence.
func (d *DB) DeleteGeofence(name string) error {
	res, err := d.db.Exec(`DELETE FROM geofence_polygons WHERE name = ?`, name)
	if err != nil {
		return domain.StorageError(err, "delete geofence %q", name)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundError("geofence %q", name)
	}
	return nil
}
