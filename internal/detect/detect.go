// Package detect classifies raw alarm records: which rows represent terminal
// failures, when a unit last raised a critical alarm, and which known failure
// modes a unit has exhibited.
package detect

import (
	"strings"
	"time"

	"github.com/coolstack/crac-risk/internal/models"
)

// failurePhrases is the curated catalogue of alarm descriptions known to mark
// a terminal CRAC failure. Matching is case-insensitive substring search.
var failurePhrases = []string{
	"Low Superheat Critical",
	"Compressor High Head Condition",
	"Returned from Idle Due To Leak Detected",
	"Compressor Drive Failure",
	"El valor de 'Humedad de suministro' (93 % RH) ha sido muy alto durante mucho tiempo",
	"El valor de 'Humedad de suministro' (94 % RH) ha sido muy alto durante mucho tiempo",
}

// clearancePhrases mark resolved or informational events; a row matching any
// of these is never a failure even when a failure phrase also matches.
var clearancePhrases = []string{
	"cleared",
	"corrected",
	"restored",
	"ok",
	"normal",
	"return to normal",
	"solucionado",
}

// failureModeCatalog maps each failure phrase to the operator-facing
// description of the underlying failure mode.
var failureModeCatalog = map[string]string{
	"Low Superheat Critical":                  "Refrigerant flooding the compressor - mechanical damage risk",
	"Compressor High Head Condition":          "Compressor high head pressure - mechanical overstress",
	"Returned from Idle Due To Leak Detected": "Refrigerant leak detected - loss of cooling capacity",
	"Compressor Drive Failure":                "Compressor drive failure - electrical fault",
	"El valor de 'Humedad de suministro' (93 % RH) ha sido muy alto durante mucho tiempo": "Sustained high supply humidity - humidifier control fault",
	"El valor de 'Humedad de suministro' (94 % RH) ha sido muy alto durante mucho tiempo": "Sustained high supply humidity - humidifier control fault",
}

// Failures flags each record as a terminal failure or a routine alarm. The
// returned slice is aligned to the input. Classification is description-only;
// severityThreshold is accepted for interface symmetry with the interval
// builder but does not gate the match.
func Failures(records []models.AlarmRecord, severityThreshold int) []bool {
	_ = severityThreshold

	flags := make([]bool, len(records))
	for i, rec := range records {
		flags[i] = isFailure(rec.Description)
	}
	return flags
}

func isFailure(description string) bool {
	if description == "" {
		return false
	}
	desc := strings.ToLower(description)

	matched := false
	for _, phrase := range failurePhrases {
		if strings.Contains(desc, strings.ToLower(phrase)) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, phrase := range clearancePhrases {
		if strings.Contains(desc, phrase) {
			return false
		}
	}
	return true
}

// LastCriticalAlarm returns the timestamp of the unit's most recent alarm with
// severity at or above the threshold. If no alarm qualifies it falls back to
// the most recent alarm of any severity, and nil when the unit has no records.
func LastCriticalAlarm(records []models.AlarmRecord, unit string, severityThreshold int) *time.Time {
	var latestCritical, latestAny *time.Time
	for i := range records {
		rec := &records[i]
		if rec.Unit != unit {
			continue
		}
		if latestAny == nil || rec.Timestamp.After(*latestAny) {
			ts := rec.Timestamp
			latestAny = &ts
		}
		if rec.Severity >= severityThreshold {
			if latestCritical == nil || rec.Timestamp.After(*latestCritical) {
				ts := rec.Timestamp
				latestCritical = &ts
			}
		}
	}
	if latestCritical != nil {
		return latestCritical
	}
	return latestAny
}

// FailureModes returns, per unit, the distinct operator descriptions of the
// failure modes present in its alarm history, in catalogue order.
func FailureModes(records []models.AlarmRecord) map[string][]string {
	type unitPhrases map[string]bool
	matched := make(map[string]unitPhrases)

	for i := range records {
		rec := &records[i]
		if rec.Description == "" {
			continue
		}
		desc := strings.ToLower(rec.Description)
		for _, phrase := range failurePhrases {
			if strings.Contains(desc, strings.ToLower(phrase)) {
				if matched[rec.Unit] == nil {
					matched[rec.Unit] = make(unitPhrases)
				}
				matched[rec.Unit][phrase] = true
			}
		}
	}

	modes := make(map[string][]string, len(matched))
	for unit, phrases := range matched {
		seen := make(map[string]bool)
		for _, phrase := range failurePhrases {
			if !phrases[phrase] {
				continue
			}
			desc := failureModeCatalog[phrase]
			if seen[desc] {
				continue
			}
			seen[desc] = true
			modes[unit] = append(modes[unit], desc)
		}
	}
	return modes
}
