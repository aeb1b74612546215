// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"time"

	"github.com/goccy/go-json"
	engineModel "github.com/pingcap/buildflow/engine/model"
	"github.com/pingcap/buildflow/pkg/errors"
)

// JobRecord stores a job snapshot. The columns the dispatch queue and the
// conditional write look at are kept next to the JSON document.
type JobRecord struct {
	Model
	ID               string    `gorm:"column:id;type:varchar(128) not null;uniqueIndex:uidx_jid"`
	Name             string    `gorm:"column:name;type:varchar(256) not null"`
	GraphHash        string    `gorm:"column:graph_hash;type:varchar(64) not null;index:idx_graph"`
	SchedulePriority int       `gorm:"column:schedule_priority;not null;index:idx_queue,priority:1"`
	CreateTime       time.Time `gorm:"column:create_time;index:idx_queue,priority:2"`
	UpdateTime       time.Time `gorm:"column:update_time"`
	UpdateIndex      int64     `gorm:"column:update_index;not null"`
	Data             []byte    `gorm:"column:data;type:longblob"`
}

// NewJobRecord encodes the job into a record.
func NewJobRecord(job *engineModel.Job) (*JobRecord, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &JobRecord{
		ID:               job.ID,
		Name:             job.Name,
		GraphHash:        job.GraphHash,
		SchedulePriority: job.SchedulePriority,
		CreateTime:       job.CreateTime,
		UpdateTime:       job.UpdateTime,
		UpdateIndex:      job.UpdateIndex,
		Data:             data,
	}, nil
}

// Job decodes the snapshot kept in the record. The indexed columns win over
// the document, they are the ones the conditional write maintains.
func (r *JobRecord) Job() (*engineModel.Job, error) {
	var job engineModel.Job
	if err := json.Unmarshal(r.Data, &job); err != nil {
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}
	job.UpdateIndex = r.UpdateIndex
	job.UpdateTime = r.UpdateTime
	return &job, nil
}

// UpdateValues returns the columns rewritten by a conditional update.
func (r *JobRecord) UpdateValues() map[string]interface{} {
	return map[string]interface{}{
		"name":              r.Name,
		"graph_hash":        r.GraphHash,
		"schedule_priority": r.SchedulePriority,
		"update_time":       r.UpdateTime,
		"update_index":      r.UpdateIndex,
		"data":              r.Data,
	}
}

// GraphRecord stores an encoded graph by its hash.
type GraphRecord struct {
	Model
	Hash string `gorm:"column:hash;type:varchar(64) not null;uniqueIndex:uidx_hash"`
	Data []byte `gorm:"column:data;type:longblob"`
}

// NewGraphRecord encodes the graph into a record.
func NewGraphRecord(graph *engineModel.Graph) (*GraphRecord, error) {
	data, err := graph.Encode()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &GraphRecord{Hash: graph.Hash, Data: data}, nil
}

// Graph decodes the record. The decoded graph must hash to the stored hash.
func (r *GraphRecord) Graph() (*engineModel.Graph, error) {
	graph, err := engineModel.DecodeGraph(r.Data)
	if err != nil {
		return nil, err
	}
	if graph.Hash != r.Hash {
		return nil, errors.ErrInvalidGraph.GenWithStackByArgs(
			"graph stored as " + r.Hash + " hashes to " + graph.Hash)
	}
	return graph, nil
}
