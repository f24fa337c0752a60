// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/restreamerd/restreamerd/internal/state"
)

// apply runs mutate through the Store and returns the merged View on
// success, matching every mutation query's documented return shape
// (spec.md §6 describes mutations as returning the affected Restream or
// the whole updated state; this facade returns the full post-mutation
// View, which is what every end-to-end scenario in §8 actually asserts
// against via a subsequent subscription emission).
func apply(s *Server, mutate state.Mutation) (any, error) {
	v, err := s.cfg.Store.Apply(mutate)
	if err != nil {
		return nil, err
	}
	return v, nil
}

type setRestreamVariables struct {
	ID         *string `json:"id"`
	Key        string  `json:"key"`
	Label      *string `json:"label"`
	URL        *string `json:"url"`
	WithBackup bool    `json:"withBackup"`
	BackupURL  *string `json:"backupUrl"`
	WithHLS    bool    `json:"withHls"`
}

func opSetRestream(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v setRestreamVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.SetRestream(state.SetRestreamRequest{
		ID: v.ID, Key: v.Key, Label: v.Label, URL: v.URL,
		WithBackup: v.WithBackup, BackupURL: v.BackupURL, WithHLS: v.WithHLS,
	}))
}

type restreamIDVariables struct {
	ID string `json:"id"`
}

func opRemoveRestream(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v restreamIDVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.RemoveRestream(v.ID))
}

func opEnableRestream(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v restreamIDVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.SetRestreamEnabled(v.ID, true))
}

func opDisableRestream(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v restreamIDVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.SetRestreamEnabled(v.ID, false))
}

type inputIDVariables struct {
	RestreamID string `json:"restreamId"`
	InputID    string `json:"inputId"`
}

func opEnableInput(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v inputIDVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.SetInputEnabled(v.RestreamID, v.InputID, true))
}

func opDisableInput(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v inputIDVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.SetInputEnabled(v.RestreamID, v.InputID, false))
}

type mixinVariables struct {
	Source  string `json:"source"`
	Volume  *int   `json:"volume"`
	DelayMs *int64 `json:"delayMs"`
}

type setOutputVariables struct {
	RestreamID string           `json:"restreamId"`
	ID         *string          `json:"id"`
	Dst        string           `json:"dst"`
	Label      *string          `json:"label"`
	Mixins     []mixinVariables `json:"mixins"`
}

func opSetOutput(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v setOutputVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}

	specs := make([]state.MixinSpec, 0, len(v.Mixins))
	for _, m := range v.Mixins {
		spec := state.MixinSpec{Source: m.Source, Volume: m.Volume}
		if m.DelayMs != nil {
			d := time.Duration(*m.DelayMs) * time.Millisecond
			spec.Delay = &d
		}
		specs = append(specs, spec)
	}

	return apply(s, state.SetOutput(state.SetOutputRequest{
		RestreamID: v.RestreamID, ID: v.ID, Dst: v.Dst, Label: v.Label, Mixins: specs,
	}))
}

type outputIDVariables struct {
	RestreamID string `json:"restreamId"`
	ID         string `json:"id"`
}

func opRemoveOutput(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v outputIDVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.RemoveOutput(v.RestreamID, v.ID))
}

func opEnableOutput(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v outputIDVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.SetOutputEnabled(v.RestreamID, v.ID, true))
}

func opDisableOutput(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v outputIDVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.SetOutputEnabled(v.RestreamID, v.ID, false))
}

func opEnableAllOutputs(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v restreamIDVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.SetAllOutputsEnabled(v.ID, true))
}

func opDisableAllOutputs(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v restreamIDVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.SetAllOutputsEnabled(v.ID, false))
}

type tuneVolumeVariables struct {
	RestreamID string  `json:"restreamId"`
	OutputID   string  `json:"outputId"`
	MixinID    *string `json:"mixinId"`
	Volume     int     `json:"volume"`
}

func opTuneVolume(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v tuneVolumeVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.TuneVolume(v.RestreamID, v.OutputID, v.MixinID, v.Volume))
}

type tuneDelayVariables struct {
	RestreamID string `json:"restreamId"`
	OutputID   string `json:"outputId"`
	MixinID    string `json:"mixinId"`
	DelayMs    int64  `json:"delayMs"`
}

func opTuneDelay(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v tuneDelayVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	return apply(s, state.TuneDelay(v.RestreamID, v.OutputID, v.MixinID, time.Duration(v.DelayMs)*time.Millisecond))
}

type importVariables struct {
	Spec       json.RawMessage `json:"spec"`
	RestreamID *string         `json:"restreamId"`
	Replace    bool            `json:"replace"`
}

func opImport(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v importVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	spec, err := state.ParseSpec(v.Spec)
	if err != nil {
		return nil, err
	}
	return apply(s, state.Import(spec, v.RestreamID, v.Replace))
}

type setPasswordVariables struct {
	Old *string `json:"old"`
	New *string `json:"new"`
}

func opSetPassword(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v setPasswordVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	var old, newPw string
	if v.Old != nil {
		old = *v.Old
	}
	if v.New != nil {
		newPw = *v.New
	}
	view, err := s.cfg.Store.SetPassword(old, newPw)
	if err != nil {
		return nil, err
	}
	return view, nil
}

type removeDvrFileVariables struct {
	Path string `json:"path"`
}

func opRemoveDvrFile(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var v removeDvrFileVariables
	if err := decodeVariables(raw, &v); err != nil {
		return nil, err
	}
	if err := state.RemoveDvrFile(s.cfg.DVRRoot, v.Path); err != nil {
		return nil, err
	}
	return map[string]bool{"removed": true}, nil
}
