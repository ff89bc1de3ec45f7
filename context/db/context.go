package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/govm-net/greeter/context"
	"github.com/govm-net/greeter/core"
	"github.com/govm-net/greeter/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultDBPath = "./greeter.db"
)

// ErrInvocationNotFound is returned when no invocation has the requested id
var ErrInvocationNotFound = errors.New("invocation not found")

// DBInvocation represents one executed instruction
type DBInvocation struct {
	gorm.Model
	InvocationID string    `gorm:"column:invocation_id;not null;unique;index;size:36"`
	ProgramID    string    `gorm:"column:program_id;not null;index;size:44"`
	Instruction  string    `gorm:"column:instruction;size:255"`
	Accounts     []byte    `gorm:"column:accounts;type:blob"` // JSON encoded account metas
	Logs         []byte    `gorm:"column:logs;type:blob"`     // JSON encoded trace lines
	Success      bool      `gorm:"column:success;not null"`
	Error        string    `gorm:"column:error"`
	StartedAt    time.Time `gorm:"column:started_at;not null"`
	DurationNS   int64     `gorm:"column:duration_ns;not null"`
}

// TableName specifies the table name for DBInvocation
func (DBInvocation) TableName() string {
	return "invocations"
}

// DBProgramLog represents one message a program wrote to the log
type DBProgramLog struct {
	gorm.Model
	InvocationID string    `gorm:"column:invocation_id;not null;index;size:36"`
	ProgramID    string    `gorm:"column:program_id;not null;index;size:44"`
	Seq          int       `gorm:"column:seq;not null"`
	Message      string    `gorm:"column:message;not null"`
	LoggedAt     time.Time `gorm:"column:logged_at;not null"`
}

// TableName specifies the table name for DBProgramLog
func (DBProgramLog) TableName() string {
	return "program_logs"
}

// Context implements the HostContext interface using SQLite with GORM
type Context struct {
	db *gorm.DB
}

func init() {
	if err := context.Register(context.DBContextType, NewContext); err != nil {
		panic(err)
	}
}

// NewContext creates a new SQLite-backed host context. The "db_path" param
// selects the database file.
func NewContext(params map[string]any) (types.HostContext, error) {
	dbPath := defaultDBPath
	if path, ok := params["db_path"].(string); ok && path != "" {
		dbPath = path
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx := &Context{db: db}
	if err := ctx.initDB(); err != nil {
		ctx.Close()
		return nil, err
	}
	return ctx, nil
}

func (c *Context) initDB() error {
	if err := c.db.AutoMigrate(&DBInvocation{}, &DBProgramLog{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// RecordInvocation implements types.HostContext
func (c *Context) RecordInvocation(inv *types.Invocation) error {
	if inv == nil || inv.ID == "" {
		return fmt.Errorf("invocation without id")
	}

	accounts, err := json.Marshal(inv.Accounts)
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}
	logs, err := json.Marshal(inv.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	row := &DBInvocation{
		InvocationID: inv.ID,
		ProgramID:    inv.ProgramID.String(),
		Instruction:  inv.Instruction,
		Accounts:     accounts,
		Logs:         logs,
		Success:      inv.Success,
		Error:        inv.Error,
		StartedAt:    inv.StartedAt,
		DurationNS:   int64(inv.Duration),
	}

	err = c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to save invocation: %w", err)
		}
		for i, msg := range inv.Messages() {
			entry := &DBProgramLog{
				InvocationID: inv.ID,
				ProgramID:    row.ProgramID,
				Seq:          i,
				Message:      msg,
				LoggedAt:     inv.StartedAt,
			}
			if err := tx.Create(entry).Error; err != nil {
				return fmt.Errorf("failed to save program log: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to record invocation", "id", inv.ID, "error", err)
		return err
	}

	slog.Debug("invocation recorded", "id", inv.ID, "program", row.ProgramID, "success", inv.Success)
	return nil
}

// Invocation implements types.HostContext
func (c *Context) Invocation(id string) (*types.Invocation, error) {
	var row DBInvocation
	result := c.db.Where("invocation_id = ?", id).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInvocationNotFound, id)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get invocation: %w", result.Error)
	}
	return row.toInvocation()
}

// Invocations implements types.HostContext
func (c *Context) Invocations(program core.Address) ([]*types.Invocation, error) {
	var rows []DBInvocation
	if err := c.db.Where("program_id = ?", program.String()).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}

	out := make([]*types.Invocation, 0, len(rows))
	for i := range rows {
		inv, err := rows[i].toInvocation()
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

// Logs implements types.HostContext
func (c *Context) Logs(program core.Address) ([]types.LogEntry, error) {
	var rows []DBProgramLog
	if err := c.db.Where("program_id = ?", program.String()).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list program logs: %w", err)
	}

	out := make([]types.LogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.LogEntry{
			InvocationID: row.InvocationID,
			ProgramID:    program,
			Seq:          row.Seq,
			Message:      row.Message,
			Time:         row.LoggedAt,
		})
	}
	return out, nil
}

// Close implements types.HostContext
func (c *Context) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}

func (row *DBInvocation) toInvocation() (*types.Invocation, error) {
	program, err := core.ParseAddress(row.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invocation %s: %w", row.InvocationID, err)
	}

	inv := &types.Invocation{
		ID:          row.InvocationID,
		ProgramID:   program,
		Instruction: row.Instruction,
		Success:     row.Success,
		Error:       row.Error,
		StartedAt:   row.StartedAt,
		Duration:    time.Duration(row.DurationNS),
	}
	if err := json.Unmarshal(row.Accounts, &inv.Accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accounts: %w", err)
	}
	if err := json.Unmarshal(row.Logs, &inv.Logs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
	}
	return inv, nil
}
