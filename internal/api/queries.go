// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/restreamerd/restreamerd/internal/state"
)

// infoView is the `info` query result (spec.md §6).
type infoView struct {
	PublicHost   string `json:"publicHost"`
	PasswordHash string `json:"passwordHash,omitempty"`
}

func opInfo(s *Server, _ *http.Request, _ json.RawMessage) (any, error) {
	v := s.cfg.Store.View()
	view := infoView{PublicHost: s.cfg.PublicHost}
	if v.Settings.PasswordHash != "" {
		view.PasswordHash = v.Settings.PasswordHash
	}
	return view, nil
}

func opAllRestreams(s *Server, _ *http.Request, _ json.RawMessage) (any, error) {
	return s.cfg.Store.View().Restreams, nil
}

type exportVariables struct {
	ID *string `json:"id"`
}

func opExport(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var vars exportVariables
	if err := decodeVariables(raw, &vars); err != nil {
		return nil, err
	}

	view := s.cfg.Store.View()
	if vars.ID == nil {
		return state.ExportAll(view), nil
	}
	spec, ok := state.ExportRestream(view, *vars.ID)
	if !ok {
		return nil, &state.Error{Kind: state.KindNotFound, Message: "restream " + *vars.ID + " not found"}
	}
	return spec, nil
}

type dvrFilesVariables struct {
	ID string `json:"id"`
}

func opDvrFiles(s *Server, _ *http.Request, raw json.RawMessage) (any, error) {
	var vars dvrFilesVariables
	if err := decodeVariables(raw, &vars); err != nil {
		return nil, err
	}
	files, err := state.ListDvrFiles(s.cfg.DVRRoot, s.cfg.Store.View(), vars.ID)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []state.DvrFile{}
	}
	return files, nil
}
