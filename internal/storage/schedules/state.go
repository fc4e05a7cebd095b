package schedules

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// InstigatorType is the kind of instigator.
type InstigatorType string

const (
	Schedule InstigatorType = "SCHEDULE"
	Sensor   InstigatorType = "SENSOR"
)

// InstigatorStatus is whether an instigator is evaluated.
type InstigatorStatus string

const (
	Running        InstigatorStatus = "RUNNING"
	Stopped        InstigatorStatus = "STOPPED"
	DeclaredInCode InstigatorStatus = "DECLARED_IN_CODE"
)

// Origin locates an instigator in a code location.
type Origin struct {
	LocationName   string `json:"location_name"`
	RepositoryName string `json:"repository_name"`
	InstigatorName string `json:"instigator_name"`
}

// SelectorID identifies the instigator independently of how its code
// location is loaded.
func (o Origin) SelectorID() string {
	return digest(struct {
		LocationName   string `json:"location_name"`
		Name           string `json:"name"`
		RepositoryName string `json:"repository_name"`
	}{o.LocationName, o.InstigatorName, o.RepositoryName})
}

// OriginID is the legacy key of a jobs row.
func (o Origin) OriginID() string {
	return digest(struct {
		Class          string `json:"__class__"`
		LocationName   string `json:"location_name"`
		Name           string `json:"name"`
		RepositoryName string `json:"repository_name"`
	}{"InstigatorOrigin", o.LocationName, o.InstigatorName, o.RepositoryName})
}

// RepositorySelectorID identifies the repository holding the instigator.
func (o Origin) RepositorySelectorID() string {
	return digest(struct {
		LocationName   string `json:"location_name"`
		RepositoryName string `json:"repository_name"`
	}{o.LocationName, o.RepositoryName})
}

// digest hashes the JSON form of v. Struct fields are declared in key
// order so the encoding is canonical.
func digest(v any) string {
	b, _ := json.Marshal(v)
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// InstigatorState is the stored state of a schedule or sensor.
type InstigatorState struct {
	Origin Origin
	Type   InstigatorType
	Status InstigatorStatus
}

// SelectorID is a shorthand for s.Origin.SelectorID().
func (s InstigatorState) SelectorID() string {
	return s.Origin.SelectorID()
}

const (
	classInstigatorState = "InstigatorState"
	classJobState        = "JobState"
)

type stateBody struct {
	Class  string           `json:"__class__"`
	Origin Origin           `json:"origin"`
	Type   InstigatorType   `json:"instigator_type"`
	Status InstigatorStatus `json:"status"`
}

// legacyStateBody is how releases before instigators serialized a jobs
// row: the origin nests the repository and location.
type legacyStateBody struct {
	Class  string `json:"__class__"`
	Origin struct {
		Repository struct {
			Location struct {
				LocationName string `json:"location_name"`
			} `json:"repository_location_origin"`
			RepositoryName string `json:"repository_name"`
		} `json:"external_repository_origin"`
		JobName string `json:"job_name"`
	} `json:"origin"`
	Type   InstigatorType   `json:"job_type"`
	Status InstigatorStatus `json:"status"`
}

func encodeState(s InstigatorState) (string, error) {
	b, err := json.Marshal(stateBody{
		Class:  classInstigatorState,
		Origin: s.Origin,
		Type:   s.Type,
		Status: s.Status,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize instigator state: %w", err)
	}
	return string(b), nil
}

// encodeLegacyState writes the body older releases stored in jobs.
func encodeLegacyState(s InstigatorState) (string, error) {
	var body legacyStateBody
	body.Class = classJobState
	body.Origin.Repository.Location.LocationName = s.Origin.LocationName
	body.Origin.Repository.RepositoryName = s.Origin.RepositoryName
	body.Origin.JobName = s.Origin.InstigatorName
	body.Type = s.Type
	body.Status = s.Status

	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to serialize job state: %w", err)
	}
	return string(b), nil
}

// decodeState reads either body format.
func decodeState(body string) (InstigatorState, error) {
	var head struct {
		Class string `json:"__class__"`
	}
	if err := json.Unmarshal([]byte(body), &head); err != nil {
		return InstigatorState{}, fmt.Errorf("failed to parse instigator state: %w", err)
	}

	switch head.Class {
	case classInstigatorState:
		var b stateBody
		if err := json.Unmarshal([]byte(body), &b); err != nil {
			return InstigatorState{}, fmt.Errorf("failed to parse instigator state: %w", err)
		}
		return InstigatorState{Origin: b.Origin, Type: b.Type, Status: b.Status}, nil
	case classJobState:
		var b legacyStateBody
		if err := json.Unmarshal([]byte(body), &b); err != nil {
			return InstigatorState{}, fmt.Errorf("failed to parse job state: %w", err)
		}
		return InstigatorState{
			Origin: Origin{
				LocationName:   b.Origin.Repository.Location.LocationName,
				RepositoryName: b.Origin.Repository.RepositoryName,
				InstigatorName: b.Origin.JobName,
			},
			Type:   b.Type,
			Status: b.Status,
		}, nil
	default:
		return InstigatorState{}, fmt.Errorf("unknown instigator state class %q", head.Class)
	}
}
