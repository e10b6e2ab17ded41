package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ImageForge/internal/domain"
	"github.com/Strob0t/ImageForge/internal/domain/task"
)

// Store implements taskstore.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const taskColumns = `id, provider, prompt, size, quality, count, options, status, progress, attempts, provider_handle, result, failure, notify_url, version, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	var optionsJSON []byte
	if t.Options != nil {
		var err error
		optionsJSON, err = json.Marshal(t.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (id, provider, prompt, size, quality, count, options, status, progress, attempts, provider_handle, notify_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING version, created_at, updated_at`,
		t.ID, t.Provider, t.Prompt, t.Size, t.Quality, t.Count, optionsJSON, string(t.Status), t.Progress, t.Attempts, t.ProviderHandle, t.NotifyURL)

	if err := row.Scan(&t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns), id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM tasks ORDER BY created_at DESC`, taskColumns))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	optionsJSON, resultJSON, failureJSON, err := marshalTask(t)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, progress = $3, attempts = $4, provider_handle = $5,
		 options = $6, result = $7, failure = $8, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $9`,
		t.ID, string(t.Status), t.Progress, t.Attempts, t.ProviderHandle,
		optionsJSON, resultJSON, failureJSON, t.Version)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s: %w", t.ID, domain.ErrConflict)
	}
	t.Version++
	return nil
}

func (s *Store) GetTaskByHandle(ctx context.Context, providerName, handle string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM tasks WHERE provider = $1 AND provider_handle = $2`, taskColumns),
		providerName, handle)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task by handle %s/%s: %w", providerName, handle, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task by handle %s/%s: %w", providerName, handle, err)
	}
	return &t, nil
}

func marshalTask(t *task.Task) (options, result, failure []byte, err error) {
	if t.Options != nil {
		options, err = json.Marshal(t.Options)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal options: %w", err)
		}
	}
	if t.Result != nil {
		result, err = json.Marshal(t.Result)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal result: %w", err)
		}
	}
	if t.Failure != nil {
		failure, err = json.Marshal(t.Failure)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal failure: %w", err)
		}
	}
	return options, result, failure, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	var optionsJSON, resultJSON, failureJSON []byte
	err := row.Scan(&t.ID, &t.Provider, &t.Prompt, &t.Size, &t.Quality, &t.Count, &optionsJSON,
		&t.Status, &t.Progress, &t.Attempts, &t.ProviderHandle, &resultJSON, &failureJSON,
		&t.NotifyURL, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if optionsJSON != nil {
		if err := json.Unmarshal(optionsJSON, &t.Options); err != nil {
			return t, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	if resultJSON != nil {
		var r task.Result
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return t, fmt.Errorf("unmarshal result: %w", err)
		}
		t.Result = &r
	}
	if failureJSON != nil {
		var f task.Failure
		if err := json.Unmarshal(failureJSON, &f); err != nil {
			return t, fmt.Errorf("unmarshal failure: %w", err)
		}
		t.Failure = &f
	}
	return t, nil
}
