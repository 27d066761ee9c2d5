package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// The JSONB columns on Job and Batch are opaque to GORM; these helpers are
// the single place that (un)marshals them, so callers work with the typed
// shapes (StagePlan, RetryState, ...) and never touch datatypes.JSON
// directly outside the persistence layer.

func marshalJSON(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return datatypes.JSON(b), nil
}

func unmarshalJSON(raw datatypes.JSON, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func (j *Job) SetStagePlan(plan []Stage) error {
	raw, err := marshalJSON(plan)
	if err != nil {
		return err
	}
	j.StagePlan = raw
	return nil
}

func (j *Job) GetStagePlan() ([]Stage, error) {
	var plan []Stage
	if err := unmarshalJSON(j.StagePlan, &plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (j *Job) SetPerStageConfig(cfg map[Stage]StageConfig) error {
	raw, err := marshalJSON(cfg)
	if err != nil {
		return err
	}
	j.PerStageConfig = raw
	return nil
}

func (j *Job) GetPerStageConfig() (map[Stage]StageConfig, error) {
	cfg := map[Stage]StageConfig{}
	if err := unmarshalJSON(j.PerStageConfig, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (j *Job) SetStageURLs(urls map[Stage]string) error {
	raw, err := marshalJSON(urls)
	if err != nil {
		return err
	}
	j.StageURLs = raw
	return nil
}

func (j *Job) GetStageURLs() (map[Stage]string, error) {
	urls := map[Stage]string{}
	if err := unmarshalJSON(j.StageURLs, &urls); err != nil {
		return nil, err
	}
	return urls, nil
}

func (j *Job) SetRetryState(rs RetryState) error {
	raw, err := marshalJSON(rs)
	if err != nil {
		return err
	}
	j.RetryState = raw
	return nil
}

func (j *Job) GetRetryState() (RetryState, error) {
	rs := NewRetryState()
	if err := unmarshalJSON(j.RetryState, &rs); err != nil {
		return RetryState{}, err
	}
	if rs.Attempts == nil {
		rs.Attempts = map[Stage]int{}
	}
	if rs.TightenLevel == nil {
		rs.TightenLevel = map[Stage]int{}
	}
	return rs, nil
}

func (j *Job) SetMeta(meta JobMeta) error {
	raw, err := marshalJSON(meta)
	if err != nil {
		return err
	}
	j.Meta = raw
	return nil
}

func (j *Job) GetMeta() (JobMeta, error) {
	var meta JobMeta
	if err := unmarshalJSON(j.Meta, &meta); err != nil {
		return JobMeta{}, err
	}
	return meta, nil
}

func (b *Batch) SetSettings(s BatchSettings) error {
	raw, err := marshalJSON(s)
	if err != nil {
		return err
	}
	b.Settings = raw
	return nil
}

func (b *Batch) GetSettings() (BatchSettings, error) {
	var s BatchSettings
	if err := unmarshalJSON(b.Settings, &s); err != nil {
		return BatchSettings{}, err
	}
	return s, nil
}

func (b *Batch) SetJobIDs(ids []uuid.UUID) error {
	raw, err := marshalJSON(ids)
	if err != nil {
		return err
	}
	b.JobIDs = raw
	return nil
}

func (b *Batch) GetJobIDs() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := unmarshalJSON(b.JobIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
