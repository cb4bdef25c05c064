package recording

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/revere-project/revere/internal/motion"
)

// MotionRepository persists motion.Metrics into the motion_events
// table (internal/database's 002_motion_events migration), the
// "parallel store of per-motion records" the read HTTP surface serves
// from.
type MotionRepository struct {
	db *sql.DB
}

// NewMotionRepository wraps a SQLite handle as a MotionSink.
func NewMotionRepository(db *sql.DB) *MotionRepository {
	return &MotionRepository{db: db}
}

// MotionEvent is one persisted row of the motion_events side store, as
// read back by the motion readout endpoint.
type MotionEvent struct {
	ID               string    `json:"id"`
	CameraID         string    `json:"camera_id"`
	Timestamp        time.Time `json:"timestamp"`
	MotionPixels     int       `json:"motion_pixels"`
	MotionAvg        float64   `json:"motion_avg"`
	MotionStdDev     float64   `json:"motion_stddev"`
	PixelsBeforeMask int       `json:"pixels_before_mask"`
	PixelsAfterMask  int       `json:"pixels_after_mask"`
	MaskingActive    bool      `json:"masking_active"`
	BBoxX            int       `json:"bbox_x"`
	BBoxY            int       `json:"bbox_y"`
	BBoxW            int       `json:"bbox_w"`
	BBoxH            int       `json:"bbox_h"`
	HasMotion        bool      `json:"has_motion"`
}

// QueryMotion returns every motion_events row for cameraID whose
// timestamp falls in [start, end), ordered oldest first.
func (r *MotionRepository) QueryMotion(ctx context.Context, cameraID string, start, end time.Time) ([]MotionEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, camera_id, timestamp, motion_pixels, motion_avg, motion_stddev,
			   pixels_before_mask, pixels_after_mask, masking_active,
			   bbox_x, bbox_y, bbox_w, bbox_h, has_motion
		FROM motion_events
		WHERE camera_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC
	`, cameraID, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MotionEvent
	for rows.Next() {
		var e MotionEvent
		var ts int64
		var masking, hasMotion int
		var bx, by, bw, bh sql.NullInt64
		if err := rows.Scan(
			&e.ID, &e.CameraID, &ts, &e.MotionPixels, &e.MotionAvg, &e.MotionStdDev,
			&e.PixelsBeforeMask, &e.PixelsAfterMask, &masking,
			&bx, &by, &bw, &bh, &hasMotion,
		); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		e.MaskingActive = masking != 0
		e.HasMotion = hasMotion != 0
		e.BBoxX, e.BBoxY, e.BBoxW, e.BBoxH = int(bx.Int64), int(by.Int64), int(bw.Int64), int(bh.Int64)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordMotion implements MotionSink.
func (r *MotionRepository) RecordMotion(ctx context.Context, cameraID string, ts time.Time, m *motion.Metrics) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO motion_events (
			id, camera_id, timestamp, motion_pixels, motion_avg, motion_stddev,
			pixels_before_mask, pixels_after_mask, masking_active,
			bbox_x, bbox_y, bbox_w, bbox_h, has_motion, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.New().String(),
		cameraID,
		ts.Unix(),
		m.MotionPixels,
		m.AvgMotion,
		m.StdDev,
		m.MotionBeforeMask,
		m.MotionBeforeMask-m.MaskedPixels,
		boolToInt(m.MaskingActive),
		m.BBox.X,
		m.BBox.Y,
		m.BBox.Width,
		m.BBox.Height,
		boolToInt(m.BBox.HasMotion),
		time.Now().Unix(),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
