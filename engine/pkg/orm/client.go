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

package orm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	_ "github.com/go-sql-driver/mysql" // register mysql driver
	engineModel "github.com/pingcap/buildflow/engine/model"
	engineLogutil "github.com/pingcap/buildflow/engine/pkg/logutil"
	"github.com/pingcap/buildflow/engine/pkg/orm/model"
	"github.com/pingcap/buildflow/pkg/errors"
	"github.com/pingcap/buildflow/pkg/logutil"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var globalModels = []interface{}{
	&model.JobRecord{},
	&model.GraphRecord{},
}

// Client defines an interface that has the ability to manage jobs and
// graphs in metastore
type Client interface {
	// Initialize creates the tables if they do not exist
	Initialize(ctx context.Context) error
	Close() error

	// JobClient is the interface to operate job snapshots.
	JobClient
	// GraphClient is the interface to operate graphs.
	GraphClient
}

// JobClient defines interface that manages job snapshots in metastore
type JobClient interface {
	InsertJob(ctx context.Context, job *engineModel.Job) error
	// UpdateJobIfIndex overwrites the stored snapshot of job.ID only if its
	// update index still equals expectedIndex. The new snapshot carries its
	// own, already incremented, UpdateIndex.
	UpdateJobIfIndex(ctx context.Context, job *engineModel.Job, expectedIndex int64) (Result, error)
	DeleteJobIfIndex(ctx context.Context, jobID string, expectedIndex int64) (Result, error)

	GetJobByID(ctx context.Context, jobID string) (*engineModel.Job, error)
	QueryJobs(ctx context.Context) ([]*engineModel.Job, error)
	QueryJobsByGraphHash(ctx context.Context, hash string) ([]*engineModel.Job, error)
	// QueryDispatchQueue returns the dispatchable jobs, highest schedule
	// priority first, older jobs first within one priority.
	QueryDispatchQueue(ctx context.Context) ([]*engineModel.Job, error)
}

// GraphClient defines interface that manages graphs in metastore
type GraphClient interface {
	// UpsertGraph stores the graph, a graph with the same hash is left alone
	UpsertGraph(ctx context.Context, graph *engineModel.Graph) error
	GetGraphByHash(ctx context.Context, hash string) (*engineModel.Graph, error)
}

// NewClient return the client to operate the metastore described by conf
func NewClient(conf *StoreConfig) (Client, error) {
	if conf == nil {
		return nil, errors.ErrMetaParamsInvalid.GenWithStackByArgs("input store config is nil")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	log.L().Info("create metastore client",
		zap.String("store-type", string(conf.StoreType)),
		zap.String("dsn", logutil.HideDSNPassword(conf.DSN)))

	switch conf.StoreType {
	case StoreTypeSQLite:
		db, err := gorm.Open(sqlite.Open(conf.DSN), gormConfig(conf))
		if err != nil {
			log.L().Error("create gorm client fail", zap.Error(err))
			return nil, errors.ErrMetaNewClientFail.Wrap(err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.ErrMetaNewClientFail.Wrap(err)
		}
		// sqlite serializes writers, a second connection only adds lock errors
		sqlDB.SetMaxOpenConns(1)
		return &metaOpsClient{db: db}, nil
	default:
		sqlDB, err := sql.Open("mysql", conf.DSN)
		if err != nil {
			return nil, errors.ErrMetaNewClientFail.Wrap(err)
		}
		if conf.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(conf.MaxOpenConns)
		}
		cli, err := newClient(sqlDB, conf)
		if err != nil {
			sqlDB.Close()
		}
		return cli, err
	}
}

func newClient(sqlDB *sql.DB, conf *StoreConfig) (*metaOpsClient, error) {
	db, err := NewGormDB(sqlDB, conf)
	if err != nil {
		return nil, err
	}
	return &metaOpsClient{db: db}, nil
}

// NewGormDB wraps a mysql connection pool into a gorm db
func NewGormDB(sqlDB *sql.DB, conf *StoreConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: false,
	}), gormConfig(conf))
	if err != nil {
		log.L().Error("create gorm client fail", zap.Error(err))
		return nil, errors.ErrMetaNewClientFail.Wrap(err)
	}
	return db, nil
}

func gormConfig(conf *StoreConfig) *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: NewOrmLogger(engineLogutil.NewLogger4Component("orm"),
			WithSlowThreshold(conf.slowThreshold()),
			WithIgnoreTraceRecordNotFoundErr()),
	}
}

// metaOpsClient is the meta operations client for the buildflow metastore
type metaOpsClient struct {
	// gorm claim to be thread safe
	db *gorm.DB
}

// Initialize creates all related tables
func (c *metaOpsClient) Initialize(ctx context.Context) error {
	if err := c.db.WithContext(ctx).AutoMigrate(globalModels...); err != nil {
		return errors.ErrMetaOpFail.Wrap(err)
	}
	return nil
}

func (c *metaOpsClient) Close() error {
	impl, err := c.db.DB()
	if err != nil {
		return errors.ErrMetaOpFail.Wrap(err)
	}
	if impl != nil {
		return errors.WrapError(errors.ErrMetaOpFail, impl.Close())
	}
	return nil
}

// ///////////////////////////// Job Operation
// InsertJob insert the job snapshot
func (c *metaOpsClient) InsertJob(ctx context.Context, job *engineModel.Job) error {
	if job == nil {
		return errors.ErrMetaParamsInvalid.GenWithStackByArgs("input job is nil")
	}
	rec, err := model.NewJobRecord(job)
	if err != nil {
		return err
	}
	if err := c.db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsDuplicateEntryError(err) {
			return errors.ErrMetaEntryAlreadyExists.Wrap(err)
		}
		return errors.ErrMetaOpFail.Wrap(err)
	}
	return nil
}

// UpdateJobIfIndex implements JobClient.UpdateJobIfIndex
func (c *metaOpsClient) UpdateJobIfIndex(
	ctx context.Context, job *engineModel.Job, expectedIndex int64,
) (Result, error) {
	if job == nil {
		return nil, errors.ErrMetaParamsInvalid.GenWithStackByArgs("input job is nil")
	}
	rec, err := model.NewJobRecord(job)
	if err != nil {
		return nil, err
	}
	result := c.db.WithContext(ctx).
		Model(&model.JobRecord{}).
		Where("id = ? AND update_index = ?", job.ID, expectedIndex).
		Updates(rec.UpdateValues())
	if result.Error != nil {
		return nil, errors.ErrMetaOpFail.Wrap(result.Error)
	}
	return &ormResult{rowsAffected: result.RowsAffected}, nil
}

// DeleteJobIfIndex delete the job only if it was not modified since it was
// read at expectedIndex
func (c *metaOpsClient) DeleteJobIfIndex(ctx context.Context, jobID string, expectedIndex int64) (Result, error) {
	result := c.db.WithContext(ctx).
		Where("id = ? AND update_index = ?", jobID, expectedIndex).
		Delete(&model.JobRecord{})
	if result.Error != nil {
		return nil, errors.ErrMetaOpFail.Wrap(result.Error)
	}
	return &ormResult{rowsAffected: result.RowsAffected}, nil
}

// GetJobByID query job by `jobID`
func (c *metaOpsClient) GetJobByID(ctx context.Context, jobID string) (*engineModel.Job, error) {
	var rec model.JobRecord
	if err := c.db.WithContext(ctx).
		Where("id = ?", jobID).
		First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrMetaEntryNotFound.Wrap(err)
		}
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}
	return rec.Job()
}

// QueryJobs query all jobs
func (c *metaOpsClient) QueryJobs(ctx context.Context) ([]*engineModel.Job, error) {
	var recs []*model.JobRecord
	if err := c.db.WithContext(ctx).
		Order("create_time asc").
		Find(&recs).Error; err != nil {
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}
	return decodeJobs(recs)
}

// QueryJobsByGraphHash query all jobs running the graph
func (c *metaOpsClient) QueryJobsByGraphHash(ctx context.Context, hash string) ([]*engineModel.Job, error) {
	var recs []*model.JobRecord
	if err := c.db.WithContext(ctx).
		Where("graph_hash = ?", hash).
		Find(&recs).Error; err != nil {
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}
	return decodeJobs(recs)
}

// QueryDispatchQueue implements JobClient.QueryDispatchQueue
func (c *metaOpsClient) QueryDispatchQueue(ctx context.Context) ([]*engineModel.Job, error) {
	var recs []*model.JobRecord
	if err := c.db.WithContext(ctx).
		Where("schedule_priority > ?", 0).
		Order("schedule_priority desc").
		Order("create_time asc").
		Find(&recs).Error; err != nil {
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}
	return decodeJobs(recs)
}

func decodeJobs(recs []*model.JobRecord) ([]*engineModel.Job, error) {
	jobs := make([]*engineModel.Job, 0, len(recs))
	for _, rec := range recs {
		job, err := rec.Job()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ///////////////////////////// Graph Operation
// UpsertGraph implements GraphClient.UpsertGraph
func (c *metaOpsClient) UpsertGraph(ctx context.Context, graph *engineModel.Graph) error {
	if graph == nil {
		return errors.ErrMetaParamsInvalid.GenWithStackByArgs("input graph is nil")
	}
	rec, err := model.NewGraphRecord(graph)
	if err != nil {
		return err
	}
	// graphs are content addressed, an existing row already holds the same data
	if err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error; err != nil {
		return errors.ErrMetaOpFail.Wrap(err)
	}
	return nil
}

// GetGraphByHash query graph by `hash`
func (c *metaOpsClient) GetGraphByHash(ctx context.Context, hash string) (*engineModel.Graph, error) {
	var rec model.GraphRecord
	if err := c.db.WithContext(ctx).
		Where("hash = ?", hash).
		First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrMetaEntryNotFound.Wrap(err)
		}
		return nil, errors.ErrMetaOpFail.Wrap(err)
	}
	return rec.Graph()
}

// Result defines a query result interface
type Result interface {
	RowsAffected() int64
}

type ormResult struct {
	rowsAffected int64
}

// RowsAffected return the affected rows of an execution
func (r ormResult) RowsAffected() int64 {
	return r.rowsAffected
}

// NewMockClient creates a client over a private in-memory sqlite database
// with all tables created.
func NewMockClient() (Client, error) {
	// ref:https://www.sqlite.org/inmemorydb.html
	// using dsn(file:%s?mode=memory&cache=shared) format here to
	// 1. Create different DB for different TestXXX()
	// 2. Enable DB shared for different connection
	conf := &StoreConfig{
		StoreType: StoreTypeSQLite,
		DSN:       fmt.Sprintf("file:%s?mode=memory&cache=shared", randomDBFile()),
	}
	cli, err := NewClient(conf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cli.Initialize(ctx); err != nil {
		cli.Close()
		return nil, err
	}
	return cli, nil
}
