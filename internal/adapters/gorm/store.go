package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"service-sopm/internal/core/functions"
	"service-sopm/internal/core/scheduler"
)

// Store implements the scheduler, registry and builder store ports.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func now() time.Time { return time.Now().UTC() }

func (s *Store) CreateFunction(ctx context.Context, fn *functions.UserFunction) error {
	return s.db.WithContext(ctx).Create(fn).Error
}

func (s *Store) GetFunction(ctx context.Context, id string) (*functions.UserFunction, error) {
	var fn functions.UserFunction
	if err := s.db.WithContext(ctx).First(&fn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, functions.ErrNotFound
		}
		return nil, err
	}
	return &fn, nil
}

func (s *Store) ListFunctions(ctx context.Context, userID string, status functions.Status) ([]functions.UserFunction, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []functions.UserFunction
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteFunction(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&functions.UserFunction{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return functions.ErrNotFound
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, functionID string, limit int) ([]functions.Execution, error) {
	var out []functions.Execution
	err := s.db.WithContext(ctx).
		Where("function_id = ?", functionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CountReadyFunctions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&functions.UserFunction{}).
		Where("status = ?", functions.StatusReady).
		Count(&n).Error
	return n, err
}

func (s *Store) setFunctionStatus(ctx context.Context, id string, values map[string]any) error {
	values["updated_at"] = now()
	res := s.db.WithContext(ctx).Model(&functions.UserFunction{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return functions.ErrNotFound
	}
	return nil
}

func (s *Store) MarkBuilding(ctx context.Context, id string) error {
	return s.setFunctionStatus(ctx, id, map[string]any{
		"status":        functions.StatusBuilding,
		"image_url":     "",
		"error_message": "",
	})
}

func (s *Store) MarkReady(ctx context.Context, id, image string) error {
	return s.setFunctionStatus(ctx, id, map[string]any{
		"status":        functions.StatusReady,
		"image_url":     image,
		"error_message": "",
	})
}

func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.setFunctionStatus(ctx, id, map[string]any{
		"status":        functions.StatusFailed,
		"image_url":     "",
		"error_message": reason,
	})
}

func (s *Store) ListStaleBuilding(ctx context.Context, before time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&functions.UserFunction{}).
		Where("status = ? AND updated_at < ?", functions.StatusBuilding, before).
		Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) FailStaleBuild(ctx context.Context, id, reason string, before time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&functions.UserFunction{}).
		Where("id = ? AND status = ? AND updated_at < ?", id, functions.StatusBuilding, before).
		Updates(map[string]any{
			"status":        functions.StatusFailed,
			"image_url":     "",
			"error_message": reason,
			"updated_at":    now(),
		})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) CreateJob(ctx context.Context, job *scheduler.Job) error {
	return s.db.WithContext(ctx).Create(job).Error
}

func (s *Store) CreateUserFunctionJob(ctx context.Context, job *scheduler.Job, exec *functions.Execution) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		exec.JobID = job.ID
		if exec.ID == "" {
			exec.ID = uuid.NewString()
		}
		return tx.Create(exec).Error
	})
}

func (s *Store) GetJob(ctx context.Context, id uint64) (*scheduler.Job, error) {
	var job scheduler.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, scheduler.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *Store) ListJobs(ctx context.Context, status scheduler.Status, limit int) ([]scheduler.Job, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []scheduler.Job
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// transition moves a job from one status to another in a single conditional
// update.
func transition(tx *gorm.DB, id uint64, from, to scheduler.Status, values map[string]any) error {
	if values == nil {
		values = map[string]any{}
	}
	values["status"] = to
	res := tx.Model(&scheduler.Job{}).Where("id = ? AND status = ?", id, from).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var n int64
	if err := tx.Model(&scheduler.Job{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return scheduler.ErrJobNotFound
	}
	return fmt.Errorf("%w: job %d is not %s", scheduler.ErrInvalidTransition, id, from)
}

func execTransition(tx *gorm.DB, jobID uint64, from, to functions.ExecutionStatus, values map[string]any) error {
	if values == nil {
		values = map[string]any{}
	}
	values["status"] = to
	res := tx.Model(&functions.Execution{}).Where("job_id = ? AND status = ?", jobID, from).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: execution of job %d is not %s", scheduler.ErrInvalidTransition, jobID, from)
	}
	return nil
}

func (s *Store) MarkRunning(ctx context.Context, id uint64) error {
	return transition(s.db.WithContext(ctx), id, scheduler.StatusPending, scheduler.StatusRunning, nil)
}

func (s *Store) MarkUserFunctionRunning(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transition(tx, id, scheduler.StatusPending, scheduler.StatusRunning, nil); err != nil {
			return err
		}
		return execTransition(tx, id, functions.ExecutionPending, functions.ExecutionRunning, nil)
	})
}

func jobOutcome(out scheduler.Outcome, at time.Time) map[string]any {
	values := map[string]any{
		"result":       datatypes.JSON(out.Result),
		"completed_at": at,
	}
	if out.Status == scheduler.StatusCompleted {
		values["execution_time_ms"] = out.ExecutionTimeMs
	}
	return values
}

func (s *Store) Finish(ctx context.Context, id uint64, out scheduler.Outcome) error {
	return transition(s.db.WithContext(ctx), id, scheduler.StatusRunning, out.Status, jobOutcome(out, now()))
}

func (s *Store) FinishUserFunction(ctx context.Context, id uint64, out scheduler.Outcome) error {
	at := now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transition(tx, id, scheduler.StatusRunning, out.Status, jobOutcome(out, at)); err != nil {
			return err
		}
		values := map[string]any{
			"output_data":   out.Output,
			"error_message": out.Error,
			"completed_at":  at,
		}
		if out.Status == scheduler.StatusCompleted {
			values["execution_time_ms"] = out.ExecutionTimeMs
		}
		return execTransition(tx, id, functions.ExecutionRunning, functions.ExecutionStatus(out.Status), values)
	})
}

// Abort fails a job that never reached a dispatcher. Its execution row, if
// any, is failed along with it.
func (s *Store) Abort(ctx context.Context, id uint64, reason string) error {
	out := scheduler.Failed(reason, nil)
	at := now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transition(tx, id, scheduler.StatusPending, scheduler.StatusRunning, nil); err != nil {
			return err
		}
		if err := transition(tx, id, scheduler.StatusRunning, scheduler.StatusFailed, jobOutcome(out, at)); err != nil {
			return err
		}
		return tx.Model(&functions.Execution{}).
			Where("job_id = ? AND status = ?", id, functions.ExecutionPending).
			Updates(map[string]any{
				"status":        functions.ExecutionFailed,
				"error_message": reason,
				"completed_at":  at,
			}).Error
	})
}

type statusCount struct {
	Status scheduler.Status
	Count  int64
}

func (s *Store) JobStats(ctx context.Context) (*scheduler.JobStats, error) {
	db := s.db.WithContext(ctx)

	var counts []statusCount
	err := db.Model(&scheduler.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	var avg struct{ Avg *float64 }
	err = db.Model(&scheduler.Job{}).
		Select("AVG(execution_time_ms) AS avg").
		Where("status = ? AND execution_time_ms IS NOT NULL", scheduler.StatusCompleted).
		Scan(&avg).Error
	if err != nil {
		return nil, err
	}

	stats := &scheduler.JobStats{StatusCounts: map[scheduler.Status]int64{}}
	for _, c := range counts {
		stats.StatusCounts[c.Status] = c.Count
	}
	if avg.Avg != nil {
		stats.AverageExecutionTimeMs = *avg.Avg
	}
	return stats, nil
}
