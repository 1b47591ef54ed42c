package trajectory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/altiroute/altiroute_core/internal/models"
)

// Resolution is the densification spacing stamped into profile exports
const Resolution = "5m"

// Filename returns the export filename for a trajectory file
func Filename(now time.Time) string {
	return fmt.Sprintf("trajectory_%d.json", now.UnixMilli())
}

// ProfileFilename returns the export filename for a detailed profile file
func ProfileFilename(now time.Time) string {
	return fmt.Sprintf("profile_%d.json", now.UnixMilli())
}

// Encode serializes a trajectory to its export JSON
func Encode(traj models.Trajectory) ([]byte, error) {
	return json.Marshal(traj)
}

// Decode parses and validates trajectory JSON. On any error the caller's
// route state must be left untouched; Decode itself never mutates anything.
func Decode(data []byte) (models.Trajectory, error) {
	var traj models.Trajectory
	if err := json.Unmarshal(data, &traj); err != nil {
		return models.Trajectory{}, fmt.Errorf("parsing trajectory: %w", err)
	}

	if traj.Points == nil {
		return models.Trajectory{}, fmt.Errorf("trajectory has no points field")
	}

	for i, p := range traj.Points {
		if !p.Coordinate().Valid() {
			return models.Trajectory{}, fmt.Errorf("point %d has out-of-range coordinates (%.4f, %.4f)", i, p.Lat, p.Lng)
		}
		if p.ID == "" {
			return models.Trajectory{}, fmt.Errorf("point %d has no id", i)
		}
	}

	return traj, nil
}

// EncodeProfile serializes a profile with its metadata block
func EncodeProfile(profile *models.AltitudeProfile, source models.ElevationSource, now time.Time) ([]byte, error) {
	export := models.ProfileExport{
		Metadata: models.ProfileMetadata{
			TotalDistance: profile.TotalDistance,
			ElevationGain: profile.ElevationGain,
			ElevationLoss: profile.ElevationLoss,
			MinAltitude:   profile.MinAltitude,
			MaxAltitude:   profile.MaxAltitude,
			PointCount:    len(profile.Points),
			Resolution:    Resolution,
			Source:        string(source),
			GeneratedAt:   now.UTC(),
		},
		Points: profile.Points,
	}
	return json.Marshal(export)
}
