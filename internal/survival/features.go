package survival

import (
	"math"

	"github.com/coolstack/crac-risk/internal/models"
)

// numFeatures is the width of the model's feature vector.
const numFeatures = 3

// FeatureNames is the ordered feature list used at both train and predict
// time. Callers constructing vectors for the model directly must preserve
// this exact order.
var FeatureNames = []string{
	"total_alarms",
	"alarms_last_24h",
	"time_since_last_alarm_h",
}

// FeatureVector is the fixed-shape numeric record consumed by the model.
// Missing values are carried as NaN; the trainer imputes them with training
// medians while the projector zero-fills (see Projector docs).
type FeatureVector struct {
	TotalAlarms         float64
	AlarmsLast24h       float64
	TimeSinceLastAlarmH float64
}

// Features derives the model's feature vector from an interval.
func Features(iv models.Interval) FeatureVector {
	fv := FeatureVector{
		TotalAlarms:         float64(iv.TotalAlarms),
		AlarmsLast24h:       float64(iv.AlarmsLast24h),
		TimeSinceLastAlarmH: math.NaN(),
	}
	if iv.TimeSinceLastAlarmH != nil {
		fv.TimeSinceLastAlarmH = *iv.TimeSinceLastAlarmH
	}
	return fv
}

func (f FeatureVector) values() [numFeatures]float64 {
	return [numFeatures]float64{f.TotalAlarms, f.AlarmsLast24h, f.TimeSinceLastAlarmH}
}

// ZeroFilled returns a copy with NaN components replaced by 0.
func (f FeatureVector) ZeroFilled() FeatureVector {
	if math.IsNaN(f.TotalAlarms) {
		f.TotalAlarms = 0
	}
	if math.IsNaN(f.AlarmsLast24h) {
		f.AlarmsLast24h = 0
	}
	if math.IsNaN(f.TimeSinceLastAlarmH) {
		f.TimeSinceLastAlarmH = 0
	}
	return f
}
