// Package postgres is the GORM/Postgres-backed implementation of storage.Store,
// grounded in the teacher's pkg/storage/postgres/job_store.go: the same
// connection-pool tuning, PrepareStmt caching, and conditional-update idiom
// for atomic transitions (Model(...).Where(...).Updates(...), checking
// RowsAffected) rather than SELECT ... FOR UPDATE SKIP LOCKED.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
	"github.com/nightslayer18/skeenode-contracts/internal/storage"
)

// pgUniqueViolation is the SQLSTATE Postgres raises for a unique/exclusion
// constraint violation.
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique-constraint rejection
// from Postgres (e.g. the partial "one non-terminal contract per job" index
// or the commitment contract_id uniqueIndex), matching the
// errors.As(&pgconn.PgError{}) idiom used elsewhere in the pack for the same
// check.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Store is a storage.Store backed by Postgres via GORM.
type Store struct {
	db *gorm.DB
}

// Config holds connection and pool settings.
type Config struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        gormlogger.LogLevel
}

// DefaultConfig mirrors the teacher's hand-tuned pool settings.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxIdleConns:    5,
		MaxOpenConns:    50,
		ConnMaxLifetime: time.Hour,
		LogLevel:        gormlogger.Warn,
	}
}

// New opens the connection, tunes the pool, and migrates the schema.
func New(cfg Config) (*Store, error) {
	gcfg := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), gcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&model.Agent{}, &model.Job{}, &model.Dependency{}, &model.Contract{}, &model.Commitment{}); err != nil {
		return nil, fmt.Errorf("postgres: schema migration: %w", err)
	}

	// Partial unique index: at most one non-terminal contract per job (§3,
	// §6). GORM struct tags can't express a partial WHERE clause, so this one
	// migration step is raw SQL, same as the teacher leaves indexing it
	// can't express in tags to explicit SQL in its migration path.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_one_nonterminal_contract_per_job
		ON contracts (job_id)
		WHERE outcome IN ('waiting', 'running')
	`).Error; err != nil {
		return nil, fmt.Errorf("postgres: partial index migration: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the database is reachable, satisfying
// httpapi.HealthChecker.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// WithTx runs fn inside a single database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(s storage.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// --- Agents ---

func (s *Store) UpsertAgent(ctx context.Context, details model.AgentDetails) (model.Agent, error) {
	var existing model.Agent
	err := s.db.WithContext(ctx).
		Where("hostname = ? AND system_name = ? AND system_version = ?", details.Hostname, details.SystemName, details.SystemVersion).
		First(&existing).Error
	if err == nil {
		return existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return model.Agent{}, fmt.Errorf("postgres: lookup agent: %w", err)
	}

	agent := model.Agent{
		AgentID:       uuid.New(),
		Hostname:      details.Hostname,
		SystemName:    details.SystemName,
		SystemVersion: details.SystemVersion,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&agent).Error; err != nil {
		// Lost the insert race against a concurrent upsert: the unique
		// index on (hostname, system_name, system_version) rejected us,
		// so the row we want now exists. Re-read it.
		var raced model.Agent
		if rerr := s.db.WithContext(ctx).
			Where("hostname = ? AND system_name = ? AND system_version = ?", details.Hostname, details.SystemName, details.SystemVersion).
			First(&raced).Error; rerr == nil {
			return raced, nil
		}
		return model.Agent{}, fmt.Errorf("postgres: create agent: %w", err)
	}
	return agent, nil
}

func (s *Store) GetAgent(ctx context.Context, agentID uuid.UUID) (*model.Agent, error) {
	var agent model.Agent
	if err := s.db.WithContext(ctx).First(&agent, "agent_id = ?", agentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get agent: %w", err)
	}
	return &agent, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]model.Agent, error) {
	var agents []model.Agent
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	return agents, nil
}

// --- Jobs & dependency edges ---

func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("postgres: create job: %w", err)
	}
	return nil
}

func (s *Store) GetJobByID(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	var job model.Job
	if err := s.db.WithContext(ctx).First(&job, "job_id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}
	return &job, nil
}

func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]model.Job, error) {
	var jobs []model.Job
	q := s.db.WithContext(ctx).Order("created_at DESC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) CreateDependency(ctx context.Context, parentJobID, childJobID uuid.UUID) error {
	dep := model.Dependency{ParentJobID: parentJobID, ChildJobID: childJobID, CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(&dep).Error; err != nil {
		return fmt.Errorf("postgres: create dependency: %w", err)
	}
	return nil
}

func (s *Store) DependenciesOf(ctx context.Context, parentJobID uuid.UUID) ([]uuid.UUID, error) {
	var deps []model.Dependency
	if err := s.db.WithContext(ctx).Where("parent_job_id = ?", parentJobID).Find(&deps).Error; err != nil {
		return nil, fmt.Errorf("postgres: dependencies of: %w", err)
	}
	ids := make([]uuid.UUID, len(deps))
	for i, d := range deps {
		ids[i] = d.ChildJobID
	}
	return ids, nil
}

func (s *Store) DependentsOf(ctx context.Context, childJobID uuid.UUID) ([]uuid.UUID, error) {
	var deps []model.Dependency
	if err := s.db.WithContext(ctx).Where("child_job_id = ?", childJobID).Find(&deps).Error; err != nil {
		return nil, fmt.Errorf("postgres: dependents of: %w", err)
	}
	ids := make([]uuid.UUID, len(deps))
	for i, d := range deps {
		ids[i] = d.ParentJobID
	}
	return ids, nil
}

// DescendantsOf walks DependentsOf breadth-first rather than issuing a
// recursive CTE, matching the rest of the store's query idiom (no SQL the
// teacher's own layer doesn't also use).
func (s *Store) DescendantsOf(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]struct{}{}
	queue := []uuid.UUID{jobID}
	var result []uuid.UUID

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		parents, err := s.DependentsOf(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			result = append(result, p)
			queue = append(queue, p)
		}
	}
	return result, nil
}

// --- Contracts ---

func (s *Store) CreateContract(ctx context.Context, contract *model.Contract) error {
	if err := s.db.WithContext(ctx).Create(contract).Error; err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("postgres: create contract: %w", err)
	}
	return nil
}

func (s *Store) GetContractByID(ctx context.Context, contractID uuid.UUID) (*model.Contract, error) {
	var c model.Contract
	if err := s.db.WithContext(ctx).First(&c, "contract_id = ?", contractID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get contract: %w", err)
	}
	return &c, nil
}

func (s *Store) LatestContractForJob(ctx context.Context, jobID uuid.UUID) (*model.Contract, error) {
	var c model.Contract
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("contract_number desc").
		First(&c).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: latest contract for job: %w", err)
	}
	return &c, nil
}

func (s *Store) ClaimContract(ctx context.Context, contractID uuid.UUID, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Contract{}).
		Where("contract_id = ? AND outcome = ? AND due <= ?", contractID, model.OutcomeWaiting, now).
		Updates(map[string]interface{}{
			"outcome":    model.OutcomeRunning,
			"claimed_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("postgres: claim contract: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) CandidateContracts(ctx context.Context, filter model.ContractFilter, now time.Time, limit, offset int) ([]model.Contract, error) {
	var contracts []model.Contract
	q := s.db.WithContext(ctx).
		Model(&model.Contract{}).
		Joins("JOIN jobs ON jobs.job_id = contracts.job_id").
		Where("contracts.outcome = ?", model.OutcomeWaiting).
		Where("contracts.due <= ?", now).
		Where("jobs.job_type = ?", filter.JobType)

	if len(filter.Tags) > 0 {
		tagsJSON, err := model.Tags(filter.Tags).Value()
		if err != nil {
			return nil, fmt.Errorf("postgres: encode tag filter: %w", err)
		}
		q = q.Where("jobs.tags @> ?", tagsJSON)
	}

	err := q.Order("jobs.created_at asc, jobs.job_id asc").
		Limit(limit).
		Offset(offset).
		Find(&contracts).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: candidate contracts: %w", err)
	}
	return contracts, nil
}

func (s *Store) UpdateContractOutcome(ctx context.Context, contractID uuid.UUID, from model.Outcome, patch storage.ContractPatch) (bool, error) {
	updates := map[string]interface{}{
		"outcome": patch.Outcome,
	}
	if patch.ClaimedAt != nil {
		updates["claimed_at"] = *patch.ClaimedAt
	}
	if patch.FinishedAt != nil {
		updates["finished_at"] = *patch.FinishedAt
	}
	if patch.ResultBody != nil {
		updates["result_body"] = patch.ResultBody
	}
	if patch.ErrorMessage != nil {
		updates["error_message"] = *patch.ErrorMessage
	}

	res := s.db.WithContext(ctx).
		Model(&model.Contract{}).
		Where("contract_id = ? AND outcome = ?", contractID, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("postgres: update contract outcome: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ListContracts(ctx context.Context, filter model.ContractFilter, limit, offset int) ([]model.Contract, error) {
	var contracts []model.Contract
	q := s.db.WithContext(ctx).Model(&model.Contract{})
	if filter.JobType != "" {
		q = q.Joins("JOIN jobs ON jobs.job_id = contracts.job_id").Where("jobs.job_type = ?", filter.JobType)
	}
	err := q.Order("contracts.created_at desc").Limit(limit).Offset(offset).Find(&contracts).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: list contracts: %w", err)
	}
	return contracts, nil
}

// --- Commitments ---

func (s *Store) CreateCommitment(ctx context.Context, commitment *model.Commitment) error {
	if err := s.db.WithContext(ctx).Create(commitment).Error; err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("postgres: create commitment: %w", err)
	}
	return nil
}

func (s *Store) GetCommitmentByID(ctx context.Context, commitmentID uuid.UUID) (*model.Commitment, error) {
	var c model.Commitment
	if err := s.db.WithContext(ctx).First(&c, "commitment_id = ?", commitmentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get commitment: %w", err)
	}
	return &c, nil
}

func (s *Store) GetCommitmentByContract(ctx context.Context, contractID uuid.UUID) (*model.Commitment, error) {
	var c model.Commitment
	if err := s.db.WithContext(ctx).First(&c, "contract_id = ?", contractID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get commitment by contract: %w", err)
	}
	return &c, nil
}

func (s *Store) DeleteCommitment(ctx context.Context, commitmentID uuid.UUID) error {
	if err := s.db.WithContext(ctx).
		Where("commitment_id = ?", commitmentID).
		Delete(&model.Commitment{}).Error; err != nil {
		return fmt.Errorf("postgres: delete commitment: %w", err)
	}
	return nil
}

func (s *Store) UpdateHeartbeat(ctx context.Context, commitmentID uuid.UUID, ts time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Commitment{}).
		Where("commitment_id = ? AND last_heartbeat < ?", commitmentID, ts).
		Update("last_heartbeat", ts)
	if res.Error != nil {
		return false, fmt.Errorf("postgres: update heartbeat: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReapStaleCommitments is the bulk-update the optional heartbeat reaper
// drives: one conditional UPDATE joined against commitments, matching the
// teacher's MarkOrphansAsFailed bulk-update idiom rather than a row-by-row
// scan.
func (s *Store) ReapStaleCommitments(ctx context.Context, olderThan, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Contract{}).
		Where("outcome = ?", model.OutcomeRunning).
		Where("contract_id IN (?)", s.db.WithContext(ctx).
			Model(&model.Commitment{}).
			Select("contract_id").
			Where("last_heartbeat < ?", olderThan)).
		Updates(map[string]interface{}{
			"outcome":       model.OutcomeError,
			"finished_at":   now,
			"error_message": "heartbeat timeout",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("postgres: reap stale commitments: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

var _ storage.Store = (*Store)(nil)
